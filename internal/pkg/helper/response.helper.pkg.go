package helper

import (
	"net/http"

	types "storefront-checkout/internal/common/type"
)

// ParseResponse fills in defaults so every response leaving a service has a
// code and a message.
func ParseResponse(r *types.Response) *types.Response {
	if r.Code == 0 {
		if r.Error != nil {
			r.Code = http.StatusInternalServerError
		} else {
			r.Code = http.StatusOK
		}
	}
	if r.Message == "" {
		r.Message = http.StatusText(r.Code)
	}
	return r
}

// ToResponseAPI is the wire form written by the response middleware.
func ToResponseAPI(r *types.Response) types.ResponseAPI {
	res := types.ResponseAPI{
		Status:  r.Code,
		Message: r.Message,
		Data:    r.Data,
	}
	if r.Error != nil {
		res.Error = r.Error.Error()
	}
	return res
}
