// Package biquad provides second-order IIR sections for parametric EQ
// bands: closed-form coefficient design for the classic audio-EQ filter
// shapes, and a runtime [Filter] that applies coefficient updates through
// a short crossfade so parameter changes do not click.
//
// Coefficient design follows the Bristow-Johnson audio EQ cookbook with
// bilinear prewarping expressed through tan-half-angle identities. The
// [Filter] runtime uses Direct Form II Transposed processing.
package biquad
