package gemini

type APIClient = apiClient

var ConvertMessages = convertMessages

func NewWithAPIClient(api APIClient, options ...Option) *Client {
	c := newClient(options...)
	c.api = api
	return c
}
