package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gamestats-service/internal/domain"
	"github.com/gamestats-service/internal/websocket"
)

type fakeMutator struct {
	row   *domain.PlayerGameStat
	err   error
	event domain.StatMutationEvent
}

func (m *fakeMutator) ApplyEvent(ctx context.Context, event domain.StatMutationEvent) (*domain.PlayerGameStat, error) {
	m.event = event
	return m.row, m.err
}

type fakeReader struct {
	stat  *domain.GameStat
	alias *domain.PlayerAlias
	row   *domain.PlayerGameStat
}

func (r *fakeReader) GetStatByName(ctx context.Context, gameID, internalName string) (*domain.GameStat, error) {
	if r.stat == nil || r.stat.GameID != gameID || r.stat.InternalName != internalName {
		return nil, domain.ErrStatNotFound
	}
	return r.stat, nil
}

func (r *fakeReader) GetAlias(ctx context.Context, aliasID string) (*domain.PlayerAlias, error) {
	if r.alias == nil || r.alias.ID != aliasID {
		return nil, domain.ErrAliasNotFound
	}
	return r.alias, nil
}

func (r *fakeReader) GetPlayerStat(ctx context.Context, playerID, statID string) (*domain.PlayerGameStat, error) {
	if r.row == nil {
		return nil, domain.ErrPlayerStatNotFound
	}
	return r.row, nil
}

func newTestHandler(mutator *fakeMutator, reader *fakeReader) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(mutator, reader, nil, nil, websocket.NewHub(logger), logger)
}

func decodeResponse(t *testing.T, res *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var body APIResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestMutateStatAppliesChange(t *testing.T) {
	mutator := &fakeMutator{row: &domain.PlayerGameStat{ID: "row-1", PlayerID: "p1", StatID: "s1", Value: 60}}
	handler := newTestHandler(mutator, &fakeReader{})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/games/game-1/stats/gold/players/a1", strings.NewReader(`{"change": 10}`))
	res := httptest.NewRecorder()
	handler.Router().ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if !decodeResponse(t, res).Success {
		t.Error("expected success envelope")
	}
	want := domain.StatMutationEvent{GameID: "game-1", StatName: "gold", PlayerAliasID: "a1", Change: 10}
	if mutator.event != want {
		t.Errorf("expected event %+v, got %+v", want, mutator.event)
	}
}

func TestMutateStatRejectsMalformedBody(t *testing.T) {
	handler := newTestHandler(&fakeMutator{}, &fakeReader{})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/games/game-1/stats/gold/players/a1", strings.NewReader(`{`))
	res := httptest.NewRecorder()
	handler.Router().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", res.Code)
	}
}

func TestMutateStatMapsRateLimitTo429(t *testing.T) {
	mutator := &fakeMutator{err: &domain.RateLimitedError{RetryAfter: 3 * time.Second}}
	handler := newTestHandler(mutator, &fakeReader{})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/games/game-1/stats/gold/players/a1", strings.NewReader(`{"change": 10}`))
	res := httptest.NewRecorder()
	handler.Router().ServeHTTP(res, req)

	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", res.Code)
	}
	if got := res.Header().Get("Retry-After"); got != "3" {
		t.Errorf("expected Retry-After 3, got %q", got)
	}
}

func TestMutateStatMapsValidationTo400(t *testing.T) {
	mutator := &fakeMutator{err: &domain.OutOfBoundsError{Bound: 999, Direction: domain.BoundHigh}}
	handler := newTestHandler(mutator, &fakeReader{})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/games/game-1/stats/gold/players/a1", strings.NewReader(`{"change": 10}`))
	res := httptest.NewRecorder()
	handler.Router().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", res.Code)
	}
}

func TestMutateStatMapsUnknownStatTo404(t *testing.T) {
	mutator := &fakeMutator{err: domain.ErrStatNotFound}
	handler := newTestHandler(mutator, &fakeReader{})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/games/game-1/stats/mana/players/a1", strings.NewReader(`{"change": 10}`))
	res := httptest.NewRecorder()
	handler.Router().ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", res.Code)
	}
}

func TestGetPlayerStatValueFallsBackToDefault(t *testing.T) {
	reader := &fakeReader{
		stat:  &domain.GameStat{ID: "s1", GameID: "game-1", InternalName: "gold", DefaultValue: 25},
		alias: &domain.PlayerAlias{ID: "a1", PlayerID: "p1", GameID: "game-1"},
	}
	handler := newTestHandler(&fakeMutator{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/games/game-1/stats/gold/players/a1", nil)
	res := httptest.NewRecorder()
	handler.Router().ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeResponse(t, res)
	data, ok := body.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %+v", body.Data)
	}
	if data["value"] != 25.0 {
		t.Errorf("expected default value 25, got %v", data["value"])
	}
}

func TestGetPlayerStatValueServesStoredRow(t *testing.T) {
	reader := &fakeReader{
		stat:  &domain.GameStat{ID: "s1", GameID: "game-1", InternalName: "gold", DefaultValue: 25},
		alias: &domain.PlayerAlias{ID: "a1", PlayerID: "p1", GameID: "game-1"},
		row:   &domain.PlayerGameStat{ID: "row-1", PlayerID: "p1", StatID: "s1", Value: 80},
	}
	handler := newTestHandler(&fakeMutator{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/games/game-1/stats/gold/players/a1", nil)
	res := httptest.NewRecorder()
	handler.Router().ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeResponse(t, res)
	data, ok := body.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %+v", body.Data)
	}
	if data["value"] != 80.0 {
		t.Errorf("expected stored value 80, got %v", data["value"])
	}
}

func TestGetStatConfigReturnsStat(t *testing.T) {
	reader := &fakeReader{
		stat: &domain.GameStat{ID: "s1", GameID: "game-1", InternalName: "gold", Global: true, GlobalValue: 70},
	}
	handler := newTestHandler(&fakeMutator{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/games/game-1/stats/gold", nil)
	res := httptest.NewRecorder()
	handler.Router().ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
}

func TestGetPlayerStatValueRejectsCrossGameAlias(t *testing.T) {
	reader := &fakeReader{
		stat:  &domain.GameStat{ID: "s1", GameID: "game-1", InternalName: "gold"},
		alias: &domain.PlayerAlias{ID: "a1", PlayerID: "p1", GameID: "game-2"},
	}
	handler := newTestHandler(&fakeMutator{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/games/game-1/stats/gold/players/a1", nil)
	res := httptest.NewRecorder()
	handler.Router().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", res.Code)
	}
}
