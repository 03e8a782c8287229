package response

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Status     string      `json:"status"`
	StatusCode int         `json:"status_code"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

func Success(statusCode int, data interface{}) Response {
	return Response{Status: StatusSuccess, StatusCode: statusCode, Data: data}
}

func Error(statusCode int, err string) Response {
	return Response{Status: StatusError, StatusCode: statusCode, Error: err}
}

// Page is the data payload of list endpoints. Items are keyed by the
// resource name so clients read e.g. data.transfers.
func Page(key string, items interface{}, total int64, page, limit int) map[string]interface{} {
	return map[string]interface{}{
		key:     items,
		"total": total,
		"page":  page,
		"limit": limit,
	}
}
