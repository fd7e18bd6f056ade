package error

// GenericError is implemented by errors that know their HTTP mapping.
// The REST recovery middleware uses it to build the response payload.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}
