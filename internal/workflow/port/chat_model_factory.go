package port

import (
	"context"

	"github.com/cloudwego/eino/components/model"
)

// ChatModelFactory is all the workflow layer needs from the LLM infrastructure.
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}
