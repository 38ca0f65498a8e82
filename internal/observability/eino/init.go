// Package eino registers process-wide eino callbacks that feed metrics and
// traces for every chat model and embedding call.
package eino

import (
	"sync"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
)

var initOnce sync.Once

// Init registers the global handlers once per process.
func Init() {
	initOnce.Do(func() {
		einocallbacks.AppendGlobalHandlers(Handler())
	})
}

// Handler builds the callback handler without registering it.
func Handler() einocallbacks.Handler {
	return cbtemplate.NewHandlerHelper().
		ChatModel(newChatModelCallbackHandler()).
		Embedding(newEmbeddingCallbackHandler()).
		Handler()
}
