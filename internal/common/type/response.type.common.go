package types

// Response is what services hand back to handlers; helper.ParseResponse
// normalizes it before the middleware writes it out.
type Response struct {
	Code    int
	Message string
	Data    any
	Error   error
}

// ResponseAPI is the JSON envelope written to clients.
type ResponseAPI struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
