package errors

// WrapStorage wraps err as a retryable storage failure attributed to the
// given component. If err is nil, returns nil. An err that is already a
// SyncError is passed through unchanged so the original code survives
// propagation across layers.
func WrapStorage(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*SyncError); ok {
		return err
	}
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: component,
		Err:       err,
		Retryable: true,
	}
}
