package metrics

import (
	"context"

	"rand-agent/internal/domain"
)

type okAgent struct{}

func (okAgent) Prompt(context.Context, domain.Prompt) (string, error) { return "ok", nil }
