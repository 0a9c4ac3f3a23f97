package tcp

import "errors"

var (
	errZeroSource      = errors.New("tcp: zero source port")
	errZeroDestination = errors.New("tcp: zero destination port")
	errInvalidOffset   = errors.New("tcp: invalid data offset field")
	errShortBuffer     = errors.New("tcp: short buffer")
	errInvalidField    = errors.New("tcp: invalid field")
	errPacketDrop      = errors.New("tcp: packet dropped during validation")
)

// Validator accumulates structural errors found while inspecting a [Frame]
// so that a single pass over the header can report more than one problem
// without allocating on the success path.
type Validator struct {
	errs []error
}

// AddBitPosErr records a validation failure. bitOffset/bitLen identify the
// header field at fault; they are accepted for symmetry with lower level
// protocol validators in this codebase and are not otherwise interpreted.
func (v *Validator) AddBitPosErr(bitOffset, bitLen int, err error) {
	v.errs = append(v.errs, err)
}

// ErrPop returns and removes the oldest recorded error, or nil if none remain.
func (v *Validator) ErrPop() error {
	if len(v.errs) == 0 {
		return nil
	}
	err := v.errs[0]
	v.errs = v.errs[1:]
	if len(v.errs) == 0 {
		v.errs = v.errs[:0]
	}
	return err
}

// Err joins all outstanding errors, or returns nil if none are recorded.
func (v *Validator) Err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return errors.Join(v.errs...)
}

// Reset discards all recorded errors, readying the Validator for reuse.
func (v *Validator) Reset() { v.errs = v.errs[:0] }
