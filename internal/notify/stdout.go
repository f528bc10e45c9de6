package notify

import (
	"context"

	"github.com/yanun0323/logs"
)

// Stdout logs notifications instead of pushing them anywhere. The default
// when no telegram credentials are configured.
type Stdout struct{}

func (Stdout) Send(_ context.Context, text string) error {
	logs.Infof("notify: %s", text)
	return nil
}

var _ Transport = Stdout{}
