package arloapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/kingrea/arlo-client/internal/audit"
	"github.com/kingrea/arlo-client/internal/ballot"
	"github.com/kingrea/arlo-client/internal/round"
)

const userAgent = "arlo-client/1"

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	// Message is the server's error message when it sent one.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("arloapi: %s %s: %d %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("arloapi: %s %s: %d", e.Method, e.Path, e.Code)
}

// Temporary reports whether retrying later may help.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	Token          string
	ElectionID     string
	JurisdictionID string
	Retries        int
	Timeout        time.Duration
	// Logger receives retry diagnostics. Optional.
	Logger retryablehttp.Logger
}

// Client talks to an Arlo server on behalf of one jurisdiction.
type Client struct {
	base           *url.URL
	token          string
	electionID     string
	jurisdictionID string
	http           *retryablehttp.Client
}

// New builds a client. BaseURL must be absolute.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("arloapi: base url %q must be absolute", opts.BaseURL)
	}
	if strings.TrimSpace(opts.ElectionID) == "" || strings.TrimSpace(opts.JurisdictionID) == "" {
		return nil, fmt.Errorf("arloapi: election and jurisdiction ids are required")
	}
	hc := retryablehttp.NewClient()
	hc.RetryMax = opts.Retries
	hc.RetryWaitMin = 200 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	// Hand the final response back so 5xx still surfaces as a StatusError.
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	hc.Logger = nil
	if opts.Logger != nil {
		hc.Logger = opts.Logger
	}
	if opts.Timeout > 0 {
		hc.HTTPClient.Timeout = opts.Timeout
	}
	return &Client{
		base:           base,
		token:          opts.Token,
		electionID:     opts.ElectionID,
		jurisdictionID: opts.JurisdictionID,
		http:           hc,
	}, nil
}

func (c *Client) jurisdictionPath(parts ...string) string {
	p := "/api/election/" + url.PathEscape(c.electionID) + "/jurisdiction/" + url.PathEscape(c.jurisdictionID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *Client) roundPath(roundID string, parts ...string) string {
	return c.jurisdictionPath(append([]string{"round", url.PathEscape(roundID)}, parts...)...)
}

// RetrievalListPath is the download path for the round's retrieval list.
func (c *Client) RetrievalListPath(roundID string, auditType audit.AuditType) string {
	kind := "ballots"
	if auditType.IsBatchBased() {
		kind = "batches"
	}
	return c.roundPath(roundID, kind, "retrieval-list")
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("arloapi: encode %s %s: %w", method, path, err)
		}
	}
	target := *c.base
	rel, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("arloapi: bad path %s: %w", path, err)
	}
	target.Path = strings.TrimRight(target.Path, "/") + rel.Path
	target.RawQuery = rel.RawQuery

	var reqBody any
	if payload != nil {
		reqBody = payload
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("arloapi: build %s %s: %w", method, path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arloapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("arloapi: read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:  method,
			Path:    path,
			Code:    resp.StatusCode,
			Message: gjson.GetBytes(data, "errors.0.message").String(),
		}
	}
	return data, nil
}

func decodeField(data []byte, field string, out any) error {
	res := gjson.GetBytes(data, field)
	if !res.Exists() {
		return fmt.Errorf("arloapi: response missing %q", field)
	}
	if err := json.Unmarshal([]byte(res.Raw), out); err != nil {
		return fmt.Errorf("arloapi: decode %q: %w", field, err)
	}
	return nil
}

// Jurisdiction loads the jurisdiction from the signed-in user's record.
func (c *Client) Jurisdiction(ctx context.Context) (audit.Jurisdiction, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/me", nil)
	if err != nil {
		return audit.Jurisdiction{}, err
	}
	for _, j := range gjson.GetBytes(data, "user.jurisdictions").Array() {
		if j.Get("id").String() != c.jurisdictionID {
			continue
		}
		return audit.Jurisdiction{
			ID:         j.Get("id").String(),
			Name:       j.Get("name").String(),
			NumBallots: int(j.Get("numBallots").Int()),
		}, nil
	}
	return audit.Jurisdiction{}, fmt.Errorf("arloapi: jurisdiction %s not assigned to user", c.jurisdictionID)
}

// Settings loads the audit settings visible to the jurisdiction.
func (c *Client) Settings(ctx context.Context) (audit.Settings, error) {
	data, err := c.do(ctx, http.MethodGet, c.jurisdictionPath("settings"), nil)
	if err != nil {
		return audit.Settings{}, err
	}
	return audit.Settings{
		AuditName: gjson.GetBytes(data, "auditName").String(),
		AuditType: audit.AuditType(gjson.GetBytes(data, "auditType").String()),
		Online:    gjson.GetBytes(data, "online").Bool(),
	}, nil
}

// Rounds loads every round so far, oldest first.
func (c *Client) Rounds(ctx context.Context) ([]audit.Round, error) {
	data, err := c.do(ctx, http.MethodGet, c.jurisdictionPath("round"), nil)
	if err != nil {
		return nil, err
	}
	var rounds []audit.Round
	if err := decodeField(data, "rounds", &rounds); err != nil {
		return nil, err
	}
	return rounds, nil
}

// CurrentRound returns the latest round, if one has started.
func (c *Client) CurrentRound(ctx context.Context) (audit.Round, bool, error) {
	rounds, err := c.Rounds(ctx)
	if err != nil || len(rounds) == 0 {
		return audit.Round{}, false, err
	}
	return rounds[len(rounds)-1], true, nil
}

// AuditBoards loads the boards created for a round.
func (c *Client) AuditBoards(ctx context.Context, roundID string) ([]audit.AuditBoard, error) {
	data, err := c.do(ctx, http.MethodGet, c.roundPath(roundID, "audit-board"), nil)
	if err != nil {
		return nil, err
	}
	var boards []audit.AuditBoard
	if err := decodeField(data, "auditBoards", &boards); err != nil {
		return nil, err
	}
	return boards, nil
}

// CreateAuditBoards implements round.BoardCreator.
func (c *Client) CreateAuditBoards(ctx context.Context, roundID string, boards []audit.NewAuditBoard) error {
	if len(boards) == 0 {
		return fmt.Errorf("arloapi: at least one audit board is required")
	}
	_, err := c.do(ctx, http.MethodPost, c.roundPath(roundID, "audit-board"), boards)
	return err
}

// Contests loads the contests on the jurisdiction's ballots.
func (c *Client) Contests(ctx context.Context) ([]audit.Contest, error) {
	data, err := c.do(ctx, http.MethodGet, c.jurisdictionPath("contest"), nil)
	if err != nil {
		return nil, err
	}
	var contests []audit.Contest
	if err := decodeField(data, "contests", &contests); err != nil {
		return nil, err
	}
	return contests, nil
}

// BoardBallots loads the ballots assigned to an audit board, in retrieval
// order.
func (c *Client) BoardBallots(ctx context.Context, roundID, boardID string) ([]audit.Ballot, error) {
	data, err := c.do(ctx, http.MethodGet, c.roundPath(roundID, "audit-board", url.PathEscape(boardID), "ballots"), nil)
	if err != nil {
		return nil, err
	}
	var ballots []audit.Ballot
	if err := decodeField(data, "ballots", &ballots); err != nil {
		return nil, err
	}
	return ballots, nil
}

// SampleCount implements round.Resolver. Ballot audits ask the server for a
// count; batch audits sum the ballots across the sampled batches.
func (c *Client) SampleCount(ctx context.Context, key round.SampleCountKey) (round.SampleCount, error) {
	if key.AuditType.IsBatchBased() {
		data, err := c.do(ctx, http.MethodGet, c.roundPath(key.RoundID, "batches"), nil)
		if err != nil {
			return round.SampleCount{}, err
		}
		batches := gjson.GetBytes(data, "batches").Array()
		ballots := 0
		for _, b := range batches {
			ballots += int(b.Get("numBallots").Int())
		}
		n := len(batches)
		return round.SampleCount{Ballots: ballots, Batches: &n}, nil
	}
	data, err := c.do(ctx, http.MethodGet, c.roundPath(key.RoundID, "ballots")+"?count=true", nil)
	if err != nil {
		return round.SampleCount{}, err
	}
	count := gjson.GetBytes(data, "count")
	if !count.Exists() {
		return round.SampleCount{}, fmt.Errorf("arloapi: sample count response missing count")
	}
	return round.SampleCount{Ballots: int(count.Int())}, nil
}

type interpretationPayload struct {
	ContestID      string   `json:"contestId"`
	Interpretation string   `json:"interpretation"`
	ChoiceIDs      []string `json:"choiceIds"`
}

type ballotPayload struct {
	Status          audit.BallotStatus      `json:"status"`
	Interpretations []interpretationPayload `json:"interpretations"`
	Comment         *string                 `json:"comment,omitempty"`
}

// BoardSubmitter returns the persistence collaborator for one audit board.
func (c *Client) BoardSubmitter(roundID, boardID string) ballot.Submitter {
	return ballot.SubmitterFunc(func(ctx context.Context, sub ballot.Submission) error {
		payload := ballotPayload{
			Status:          audit.BallotStatusAudited,
			Interpretations: make([]interpretationPayload, 0, len(sub.Interpretations)),
			Comment:         sub.Comment,
		}
		for _, ci := range sub.Interpretations {
			choices := ci.ChoiceIDs
			if choices == nil {
				choices = []string{}
			}
			payload.Interpretations = append(payload.Interpretations, interpretationPayload{
				ContestID:      ci.ContestID,
				Interpretation: string(ci.Kind),
				ChoiceIDs:      choices,
			})
		}
		path := c.roundPath(roundID, "audit-board", url.PathEscape(boardID), "ballots", url.PathEscape(sub.BallotID))
		_, err := c.do(ctx, http.MethodPut, path, payload)
		return err
	})
}
