package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/holiman/uint256"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/model"
)

// HTTPLedger implements Ledger against the pool gateway REST API.
type HTTPLedger struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPLedger creates a gateway client with optional proxy support.
func NewHTTPLedger(baseURL, apiKey, proxyURL string, timeout time.Duration) *HTTPLedger {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPLedger{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// poolStateDTO is the gateway JSON shape. Amounts are base-10 integer strings.
type poolStateDTO struct {
	NetAssetValue    string `json:"net_asset_value"`
	Reserve          string `json:"reserve"`
	SeniorAssetValue string `json:"senior_asset_value"`
	MinJuniorRatio   string `json:"min_junior_ratio"`
	MaxJuniorRatio   string `json:"max_junior_ratio"`
	MaxReserve       string `json:"max_reserve"`
}

type ordersDTO struct {
	JuniorInvest string `json:"junior_invest"`
	SeniorInvest string `json:"senior_invest"`
	JuniorRedeem string `json:"junior_redeem"`
	SeniorRedeem string `json:"senior_redeem"`
}

type epochDTO struct {
	ID                uint64 `json:"id"`
	Status            string `json:"status"`
	ChallengeDeadline uint64 `json:"challenge_deadline"`
}

type solutionDTO struct {
	Committed bool      `json:"committed"`
	Executed  ordersDTO `json:"executed"`
}

type submitDTO struct {
	IsFeasible bool      `json:"is_feasible"`
	Fallback   string    `json:"fallback,omitempty"`
	Executed   ordersDTO `json:"executed"`
}

type txDTO struct {
	TxHash  string `json:"tx_hash"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (l *HTTPLedger) ReadPoolState(ctx context.Context, poolID string) (model.PoolState, error) {
	var dto poolStateDTO
	if err := l.get(ctx, poolID, "state", &dto); err != nil {
		return model.PoolState{}, fmt.Errorf("read pool state: %w", err)
	}
	var st model.PoolState
	fields := []struct {
		name string
		raw  string
		dst  *uint256.Int
	}{
		{"net_asset_value", dto.NetAssetValue, &st.NetAssetValue},
		{"reserve", dto.Reserve, &st.Reserve},
		{"senior_asset_value", dto.SeniorAssetValue, &st.SeniorAssetValue},
		{"min_junior_ratio", dto.MinJuniorRatio, &st.MinJuniorRatio},
		{"max_junior_ratio", dto.MaxJuniorRatio, &st.MaxJuniorRatio},
		{"max_reserve", dto.MaxReserve, &st.MaxReserve},
	}
	// an absent bound must not read as zero
	for _, f := range fields {
		if f.raw == "" {
			return model.PoolState{}, fmt.Errorf("read pool state: %w: %s", ErrMissingField, f.name)
		}
		v, err := calculator.ParseInt(f.raw)
		if err != nil {
			return model.PoolState{}, fmt.Errorf("read pool state: %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return st, nil
}

func (l *HTTPLedger) ReadOrderSnapshot(ctx context.Context, poolID string) (model.OrderSnapshot, error) {
	var dto ordersDTO
	if err := l.get(ctx, poolID, "orders", &dto); err != nil {
		return model.OrderSnapshot{}, fmt.Errorf("read orders: %w", err)
	}
	orders, err := dto.snapshot()
	if err != nil {
		return model.OrderSnapshot{}, fmt.Errorf("read orders: %w", err)
	}
	return orders, nil
}

func (l *HTTPLedger) ReadEpochRecord(ctx context.Context, poolID string) (model.EpochRecord, error) {
	var dto epochDTO
	if err := l.get(ctx, poolID, "epoch", &dto); err != nil {
		return model.EpochRecord{}, fmt.Errorf("read epoch: %w", err)
	}
	status, err := model.ParseEpochStatus(dto.Status)
	if err != nil {
		return model.EpochRecord{}, fmt.Errorf("read epoch: %w", err)
	}
	return model.EpochRecord{ID: dto.ID, Status: status, ChallengeDeadline: dto.ChallengeDeadline}, nil
}

func (l *HTTPLedger) ReadCommittedSolution(ctx context.Context, poolID string) (model.OrderSnapshot, error) {
	var dto solutionDTO
	if err := l.get(ctx, poolID, "solution", &dto); err != nil {
		return model.OrderSnapshot{}, fmt.Errorf("read solution: %w", err)
	}
	if !dto.Committed {
		return model.OrderSnapshot{}, ErrNoCommittedSolution
	}
	executed, err := dto.Executed.snapshot()
	if err != nil {
		return model.OrderSnapshot{}, fmt.Errorf("read solution: %w", err)
	}
	return executed, nil
}

func (l *HTTPLedger) SubmitCombinedCloseAndExecute(ctx context.Context, poolID string, result model.AllocationResult) (model.TransactionOutcome, error) {
	return l.submit(ctx, poolID, "close-and-execute", newSubmitDTO(result))
}

func (l *HTTPLedger) SubmitSolution(ctx context.Context, poolID string, result model.AllocationResult) (model.TransactionOutcome, error) {
	return l.submit(ctx, poolID, "solution", newSubmitDTO(result))
}

func (l *HTTPLedger) SubmitExecute(ctx context.Context, poolID string) (model.TransactionOutcome, error) {
	return l.submit(ctx, poolID, "execute", struct{}{})
}

func (l *HTTPLedger) endpoint(poolID, resource string) string {
	return fmt.Sprintf("%s/api/v1/pools/%s/%s", l.BaseURL, url.PathEscape(poolID), resource)
}

func (l *HTTPLedger) get(ctx context.Context, poolID, resource string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint(poolID, resource), nil)
	if err != nil {
		return err
	}
	return l.do(req, poolID, out)
}

func (l *HTTPLedger) submit(ctx context.Context, poolID, resource string, body any) (model.TransactionOutcome, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return model.TransactionOutcome{}, fmt.Errorf("encode %s: %w", resource, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint(poolID, resource), bytes.NewReader(payload))
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var tx txDTO
	if err := l.do(req, poolID, &tx); err != nil {
		return model.TransactionOutcome{}, fmt.Errorf("submit %s: %w", resource, err)
	}
	outcome := model.TransactionOutcome{TxHash: tx.TxHash, Success: tx.Status == "success", Message: tx.Message}
	if !outcome.Success {
		return outcome, fmt.Errorf("submit %s: %w: status %q: %s", resource, ErrTransactionFailed, tx.Status, tx.Message)
	}
	return outcome, nil
}

func (l *HTTPLedger) do(req *http.Request, poolID string, out any) error {
	if l.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.APIKey)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (d ordersDTO) snapshot() (model.OrderSnapshot, error) {
	var out model.OrderSnapshot
	raw := map[model.OrderType]string{
		model.JuniorInvest: d.JuniorInvest,
		model.SeniorInvest: d.SeniorInvest,
		model.JuniorRedeem: d.JuniorRedeem,
		model.SeniorRedeem: d.SeniorRedeem,
	}
	for _, t := range model.OrderTypes {
		v, err := calculator.ParseInt(raw[t])
		if err != nil {
			return model.OrderSnapshot{}, fmt.Errorf("%s: %w", t, err)
		}
		out.Set(t, v)
	}
	return out, nil
}

func newOrdersDTO(o model.OrderSnapshot) ordersDTO {
	return ordersDTO{
		JuniorInvest: o.JuniorInvest.Dec(),
		SeniorInvest: o.SeniorInvest.Dec(),
		JuniorRedeem: o.JuniorRedeem.Dec(),
		SeniorRedeem: o.SeniorRedeem.Dec(),
	}
}

func newSubmitDTO(r model.AllocationResult) submitDTO {
	return submitDTO{IsFeasible: r.IsFeasible, Fallback: string(r.Fallback), Executed: newOrdersDTO(r.Executed)}
}
