// Package motion turns discrete position samples into continuously
// animated positions.
//
// Each entity idles, animates toward its latest confirmed sample, and
// then either idles again or extrapolates along its last heading until
// the horizon. A fixed-cadence tick advances every active entity with
// one shared timestamp so relative motion stays consistent.
package motion
