package utils

// ResponseData is the envelope every REST endpoint replies with.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded panics when err is not nil so the recovery middleware can
// translate it into an HTTP response. An optional message overrides the
// panic payload.
func PanicIfNeeded(err any, message ...string) {
	if err != nil {
		if len(message) > 0 {
			panic(message[0])
		}
		panic(err)
	}
}
