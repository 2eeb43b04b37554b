package claude

type APIClient = apiClient

var (
	ConvertMessages = convertMessages
	ExtractJSON     = extractJSON
)

func NewWithAPIClient(api APIClient, options ...Option) *Client {
	c := newClient(options...)
	c.api = api
	return c
}
