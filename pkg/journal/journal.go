package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

var (
	ErrConnectionFailed  = errors.New("journal: opensearch connection failed")
	ErrHealthcheckFailed = errors.New("journal: opensearch healthcheck failed")
	ErrIndex             = errors.New("journal: failed to index event")
	ErrSearch            = errors.New("journal: failed to search events")
)

// Config configures the OpenSearch client. An empty address list disables the journal.
type Config struct {
	Addresses    []string `env:"OPENSEARCH_ADDRESSES" envSeparator:","`
	Username     string   `env:"OPENSEARCH_USERNAME"`
	Password     string   `env:"OPENSEARCH_PASSWORD"`
	MaxRetries   int      `env:"OPENSEARCH_MAX_RETRIES" envDefault:"3"`
	DisableRetry bool     `env:"OPENSEARCH_DISABLE_RETRY" envDefault:"false"`
	IndexPrefix  string   `env:"JOURNAL_INDEX_PREFIX" envDefault:"billing-events"`
}

// Enabled reports whether a cluster is configured.
func (c Config) Enabled() bool {
	return len(c.Addresses) > 0
}

// Connect builds a client and checks the cluster answers.
func Connect(ctx context.Context, cfg Config) (*opensearch.Client, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		MaxRetries:   cfg.MaxRetries,
		DisableRetry: cfg.DisableRetry,
	})
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	if err := Healthcheck(client)(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func Healthcheck(client *opensearch.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		res, err := client.Info(client.Info.WithContext(ctx))
		if err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("%w: %s", ErrHealthcheckFailed, res.Status())
		}
		return nil
	}
}

// OpenSearch implements billing.Journal.
type OpenSearch struct {
	client *opensearch.Client
	prefix string
}

var _ billing.Journal = (*OpenSearch)(nil)

func NewOpenSearch(client *opensearch.Client, prefix string) *OpenSearch {
	if prefix == "" {
		prefix = "billing-events"
	}
	return &OpenSearch{client: client, prefix: prefix}
}

// Record indexes one entry into the index of the month it was received in.
func (j *OpenSearch) Record(ctx context.Context, entry billing.JournalEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return errors.Join(ErrIndex, err)
	}

	res, err := opensearchapi.IndexRequest{
		Index: j.prefix + "-" + entry.ReceivedAt.UTC().Format("2006.01"),
		Body:  bytes.NewReader(body),
	}.Do(ctx, j.client)
	if err != nil {
		return errors.Join(ErrIndex, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: %s: %s", ErrIndex, res.Status(), readBody(res.Body))
	}
	return nil
}

// Recent returns the tenant's latest entries, newest first.
func (j *OpenSearch) Recent(ctx context.Context, tenantID uuid.UUID, limit int) ([]billing.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query, err := json.Marshal(map[string]any{
		"size":  limit,
		"sort":  []any{map[string]any{"received_at": map[string]string{"order": "desc"}}},
		"query": map[string]any{"term": map[string]string{"tenant_id": tenantID.String()}},
	})
	if err != nil {
		return nil, errors.Join(ErrSearch, err)
	}

	res, err := opensearchapi.SearchRequest{
		Index:             []string{j.prefix + "-*"},
		Body:              bytes.NewReader(query),
		IgnoreUnavailable: opensearchapi.BoolPtr(true),
	}.Do(ctx, j.client)
	if err != nil {
		return nil, errors.Join(ErrSearch, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: %s: %s", ErrSearch, res.Status(), readBody(res.Body))
	}

	var out struct {
		Hits struct {
			Hits []struct {
				Source billing.JournalEntry `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, errors.Join(ErrSearch, err)
	}

	entries := make([]billing.JournalEntry, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		entries = append(entries, h.Source)
	}
	return entries, nil
}

// Noop drops every entry.
type Noop struct{}

func (Noop) Record(context.Context, billing.JournalEntry) error { return nil }

func (Noop) Recent(context.Context, uuid.UUID, int) ([]billing.JournalEntry, error) {
	return nil, nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
