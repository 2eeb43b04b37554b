package openai

type APIClient = apiClient

var ConvertMessages = convertMessages

// NewWithAPIClient creates a Client calling api instead of the OpenAI endpoint.
func NewWithAPIClient(api APIClient, options ...Option) *Client {
	c := &Client{model: DefaultModel}
	for _, opt := range options {
		opt(c)
	}
	c.api = api
	return c
}
