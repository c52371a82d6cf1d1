package preprocess

// DecodeError reports that the uploaded bytes could not be turned into an
// image tensor.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode image: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
