package mapgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/pipeline"
	"github.com/kbukum/sdtmforge/resilience"
	"github.com/kbukum/sdtmforge/targetspec"
)

const suggestPath = "/v1/mappings/suggest"

// ServiceGenerator asks a remote suggestion service for mapping rules.
// Transient failures are retried with backoff; anything that survives the
// retries surfaces as GenerationFailed, which the run isolates per domain.
type ServiceGenerator struct {
	cfg     config.AIConfig
	catalog *targetspec.Catalog
	client  *http.Client
	log     *logger.Logger
}

// NewServiceGenerator creates a client for the configured suggestion service.
func NewServiceGenerator(cfg config.AIConfig, catalog *targetspec.Catalog, log *logger.Logger) *ServiceGenerator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ServiceGenerator{
		cfg:     cfg,
		catalog: catalog,
		client:  &http.Client{Timeout: timeout},
		log:     log.WithComponent("mapgen.service"),
	}
}

type suggestRequest struct {
	Domain    string               `json:"domain"`
	Model     string               `json:"model,omitempty"`
	Columns   []string             `json:"columns"`
	Variables []targetspec.Variable `json:"variables"`
}

type suggestResponse struct {
	Rules []Rule `json:"rules"`
}

// Generate requests rules for one domain. The response must target only
// variables the catalog defines; anything else is a generation failure.
func (g *ServiceGenerator) Generate(ctx context.Context, unit pipeline.DomainUnit) (Spec, error) {
	def, ok := g.catalog.Domain(unit.Domain)
	if !ok {
		return Spec{}, errors.GenerationFailed(unit.Domain, fmt.Errorf("domain %s is not in the target catalog", unit.Domain))
	}

	retryCfg := resilience.DefaultRetryConfig()
	if g.cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = g.cfg.MaxAttempts
	}
	retryCfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		g.log.Warn("retrying mapping suggestion",
			logger.Fields("domain", unit.Domain, "attempt", attempt, "backoff", backoff.String(), "error", err.Error()))
	}

	rules, err := resilience.Retry(ctx, retryCfg, func() ([]Rule, error) {
		return g.suggest(ctx, unit, def)
	})
	if err != nil {
		return Spec{}, errors.GenerationFailed(unit.Domain, err)
	}

	spec := Spec{Domain: unit.Domain, Generated: "service", Rules: rules}
	if err := validateSpec(spec, def); err != nil {
		return Spec{}, errors.GenerationFailed(unit.Domain, err)
	}
	return spec, nil
}

func (g *ServiceGenerator) suggest(ctx context.Context, unit pipeline.DomainUnit, def targetspec.Domain) ([]Rule, error) {
	body, err := json.Marshal(suggestRequest{
		Domain:    unit.Domain,
		Model:     g.cfg.Model,
		Columns:   unit.Columns,
		Variables: def.Variables,
	})
	if err != nil {
		return nil, fmt.Errorf("encode suggestion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+suggestPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build suggestion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call suggestion service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("suggestion service returned %d", resp.StatusCode)
	default:
		// 4xx besides quota will not improve on retry.
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &errors.PipelineError{
			Code:    errors.ErrCodeGenerationFailed,
			Message: fmt.Sprintf("suggestion service rejected the request: %d %s", resp.StatusCode, bytes.TrimSpace(payload)),
		}
	}

	var parsed suggestResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode suggestion response: %w", err)
	}
	if len(parsed.Rules) == 0 {
		return nil, fmt.Errorf("suggestion service returned no rules")
	}
	return parsed.Rules, nil
}

// validateSpec rejects rules aimed at unknown variables or using unknown ops.
func validateSpec(spec Spec, def targetspec.Domain) error {
	ops := map[string]bool{
		OpAssign: true, OpRename: true, OpUpper: true,
		OpISO8601: true, OpConst: true, OpSplitUnit: true,
	}
	for _, r := range spec.Rules {
		if _, ok := def.Variable(r.Target); !ok {
			return fmt.Errorf("rule targets unknown variable %s", r.Target)
		}
		if !ops[r.Op] {
			return fmt.Errorf("rule for %s uses unknown op %q", r.Target, r.Op)
		}
		if r.Op != OpConst && r.Source == "" {
			return fmt.Errorf("rule for %s has no source column", r.Target)
		}
	}
	return nil
}
