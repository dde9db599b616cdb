package ollama

import "context"

// Generator produces text completions with one model.
type Generator struct {
	*Client
	model     string
	maxTokens int
}

// NewGenerator creates a non-streaming completion client. maxTokens caps
// the response length; zero leaves the server default.
func NewGenerator(baseURL, model string, maxTokens int) *Generator {
	return &Generator{Client: NewClient(baseURL, 0), model: model, maxTokens: maxTokens}
}

type generateOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type generateReq struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResp struct {
	Response string `json:"response"`
}

// Generate returns the model's answer to prompt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	var out generateResp
	req := generateReq{Model: g.model, Prompt: prompt, Options: generateOptions{NumPredict: g.maxTokens}}
	if err := g.post(ctx, "/api/generate", req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}
