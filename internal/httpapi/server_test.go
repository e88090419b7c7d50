package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/catalog"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/notification"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/problem"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/replacement"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testSigningKey = "secret-key"
	testIssuer     = "tauth"
	testCookieName = "app_session"
)

func TestBookingFlowOverHTTP(t *testing.T) {
	fixture := startServer(t)
	ctx := context.Background()

	tourist := sessionCookie(t, "tourist-1", RoleTourist)
	guide := sessionCookie(t, "guide-1", RoleGuide)
	admin := sessionCookie(t, "admin-1", RoleAdministrator)

	touristID, err := ledger.NewTouristID("tourist-1")
	if err != nil {
		t.Fatalf("tourist id: %v", err)
	}
	points, err := ledger.NewPositivePoints(decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	if _, err := fixture.bonus.Credit(ctx, touristID, points, "welcome bonus", ledger.Reference{}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := fixture.carts.AddToCart(ctx, "tourist-1", "tour-1", fixture.now); err != nil {
		t.Fatalf("add to cart: %v", err)
	}

	var purchased struct {
		Purchase purchasePayload `json:"purchase"`
	}
	status := doJSON(t, fixture.server, http.MethodPost, "/api/purchases", tourist, map[string]any{"bonus_points": "20"}, &purchased)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 for purchase, got %d", status)
	}
	if !purchased.Purchase.FinalAmount.Equal(decimal.NewFromInt(100)) || !purchased.Purchase.BonusPointsUsed.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected purchase amounts %+v", purchased.Purchase)
	}

	var balance struct {
		Account accountPayload `json:"account"`
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/api/bonus", tourist, nil, &balance); status != http.StatusOK {
		t.Fatalf("expected 200 for balance, got %d", status)
	}
	if !balance.Account.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected balance 10 after debit, got %s", balance.Account.Balance)
	}

	var audit struct {
		Audit auditPayload `json:"audit"`
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/api/bonus/audit", tourist, nil, &audit); status != http.StatusOK || !audit.Audit.Consistent || audit.Audit.Transactions != 2 {
		t.Fatalf("unexpected audit %+v (%d)", audit.Audit, status)
	}

	var history struct {
		Purchases []purchasePayload `json:"purchases"`
		Page      pagePayload       `json:"page"`
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/api/purchases?page=0&page_size=5", tourist, nil, &history); status != http.StatusOK {
		t.Fatalf("expected 200 for history, got %d", status)
	}
	if history.Page.Total != 1 || history.Page.PageSize != 5 || history.Purchases[0].ID != purchased.Purchase.ID {
		t.Fatalf("unexpected history %+v", history)
	}

	var reported struct {
		Problem problemPayload `json:"problem"`
	}
	status = doJSON(t, fixture.server, http.MethodPost, "/api/problems", tourist, map[string]any{
		"tour_id": "tour-1", "title": "Late bus", "description": "The bus arrived an hour late.",
	}, &reported)
	if status != http.StatusCreated || reported.Problem.Status != string(problem.StatusPending) {
		t.Fatalf("unexpected report %+v (%d)", reported.Problem, status)
	}

	escalatePath := "/api/guide/problems/" + reported.Problem.ID + "/escalate"
	if status := doJSON(t, fixture.server, http.MethodPost, escalatePath, guide, nil, nil); status != http.StatusOK {
		t.Fatalf("expected 200 for escalate, got %d", status)
	}
	var queue struct {
		Problems []problemPayload `json:"problems"`
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/api/admin/problems", admin, nil, &queue); status != http.StatusOK || len(queue.Problems) != 1 {
		t.Fatalf("unexpected review queue %+v (%d)", queue, status)
	}
	rejectPath := "/api/admin/problems/" + reported.Problem.ID + "/reject"
	if status := doJSON(t, fixture.server, http.MethodPost, rejectPath, admin, nil, nil); status != http.StatusOK {
		t.Fatalf("expected 200 for reject, got %d", status)
	}
	var conflict struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if status := doJSON(t, fixture.server, http.MethodPost, rejectPath, admin, nil, &conflict); status != http.StatusConflict || conflict.Error.Code != "invalid_state" {
		t.Fatalf("expected 409 invalid_state for second reject, got %d %+v", status, conflict)
	}
}

func TestAdministratorExpiresPointsOverHTTP(t *testing.T) {
	fixture := startServer(t)
	ctx := context.Background()

	tourist := sessionCookie(t, "tourist-1", RoleTourist)
	admin := sessionCookie(t, "admin-1", RoleAdministrator)

	touristID, err := ledger.NewTouristID("tourist-1")
	if err != nil {
		t.Fatalf("tourist id: %v", err)
	}
	points, err := ledger.NewPositivePoints(decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	if _, err := fixture.bonus.Credit(ctx, touristID, points, "welcome bonus", ledger.Reference{}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	expirePath := "/api/admin/bonus/tourist-1/expire"
	body := map[string]any{"points": "10", "reason": "yearly expiry", "idempotency_key": "expiry:2026:tourist-1"}
	if status := doJSON(t, fixture.server, http.MethodPost, expirePath, tourist, body, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for tourist, got %d", status)
	}
	var expired struct {
		Account accountPayload `json:"account"`
	}
	if status := doJSON(t, fixture.server, http.MethodPost, expirePath, admin, body, &expired); status != http.StatusOK {
		t.Fatalf("expected 200 for expire, got %d", status)
	}
	if !expired.Account.Balance.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected balance 20 after expiry, got %s", expired.Account.Balance)
	}
	if status := doJSON(t, fixture.server, http.MethodPost, expirePath, admin, body, nil); status != http.StatusConflict {
		t.Fatalf("expected 409 for repeated idempotency key, got %d", status)
	}

	testCases := []struct {
		name string
		body map[string]any
	}{
		{name: "missing idempotency key", body: map[string]any{"points": "5", "reason": "yearly expiry"}},
		{name: "non-positive points", body: map[string]any{"points": "0", "reason": "yearly expiry", "idempotency_key": "k-zero"}},
		{name: "more than the balance", body: map[string]any{"points": "500", "reason": "yearly expiry", "idempotency_key": "k-large"}},
		{name: "blank reason", body: map[string]any{"points": "5", "reason": " ", "idempotency_key": "k-reason"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if status := doJSON(t, fixture.server, http.MethodPost, expirePath, admin, testCase.body, nil); status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", status)
			}
		})
	}

	var history struct {
		Transactions []transactionPayload `json:"transactions"`
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/api/bonus/transactions", tourist, nil, &history); status != http.StatusOK {
		t.Fatalf("expected 200 for history, got %d", status)
	}
	if len(history.Transactions) != 2 || history.Transactions[0].Kind != string(ledger.KindExpired) || !history.Transactions[0].Amount.Equal(decimal.NewFromInt(-10)) {
		t.Fatalf("unexpected history after expiry %+v", history.Transactions)
	}
}

func TestReplacementFlowOverHTTP(t *testing.T) {
	fixture := startServer(t)
	owner := sessionCookie(t, "guide-1", RoleGuide)
	other := sessionCookie(t, "guide-2", RoleGuide)

	var requested struct {
		Replacement replacementPayload `json:"replacement"`
	}
	if status := doJSON(t, fixture.server, http.MethodPost, "/api/guide/replacements", owner, map[string]any{"tour_id": "tour-1"}, &requested); status != http.StatusCreated {
		t.Fatalf("expected 201 for request, got %d", status)
	}
	if status := doJSON(t, fixture.server, http.MethodPost, "/api/guide/replacements", owner, map[string]any{"tour_id": "tour-1"}, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate pending request, got %d", status)
	}

	var available struct {
		Replacements []replacementDetailsPayload `json:"replacements"`
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/api/guide/replacements/available", other, nil, &available); status != http.StatusOK || len(available.Replacements) != 1 {
		t.Fatalf("unexpected available list %+v (%d)", available, status)
	}
	if available.Replacements[0].Tour == nil || available.Replacements[0].Tour.ID != "tour-1" {
		t.Fatalf("expected tour details in available list, got %+v", available.Replacements[0])
	}

	cancelPath := "/api/guide/replacements/" + requested.Replacement.ID + "/cancel"
	if status := doJSON(t, fixture.server, http.MethodPost, cancelPath, other, nil, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 when another guide cancels, got %d", status)
	}

	var accepted struct {
		Replacement replacementPayload `json:"replacement"`
	}
	acceptPath := "/api/guide/replacements/" + requested.Replacement.ID + "/accept"
	if status := doJSON(t, fixture.server, http.MethodPost, acceptPath, other, nil, &accepted); status != http.StatusOK {
		t.Fatalf("expected 200 for accept, got %d", status)
	}
	if accepted.Replacement.ReplacementGuideID != "guide-2" || accepted.Replacement.Status != string(replacement.StatusAccepted) {
		t.Fatalf("unexpected accepted replacement %+v", accepted.Replacement)
	}
	tour, err := fixture.catalog.GetTour(context.Background(), "tour-1")
	if err != nil || tour.AuthorID != "guide-2" {
		t.Fatalf("expected tour to move to guide-2, got %+v (%v)", tour, err)
	}

	var mine struct {
		Replacements []replacementDetailsPayload `json:"replacements"`
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/api/guide/replacements/mine", owner, nil, &mine); status != http.StatusOK || len(mine.Replacements) != 1 {
		t.Fatalf("unexpected own requests %+v (%d)", mine, status)
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/api/guide/replacements/missing", owner, nil, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown replacement, got %d", status)
	}
}

func TestRoutesEnforceSessionAndRoles(t *testing.T) {
	fixture := startServer(t)
	tourist := sessionCookie(t, "tourist-1", RoleTourist)

	if status := doJSON(t, fixture.server, http.MethodGet, "/api/bonus", nil, nil, nil); status == http.StatusOK {
		t.Fatalf("expected request without session to be rejected")
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/api/guide/problems", tourist, nil, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for tourist on guide route, got %d", status)
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/api/admin/problems", tourist, nil, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for tourist on admin route, got %d", status)
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/api/purchases?page=abc", tourist, nil, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed page, got %d", status)
	}
	if status := doJSON(t, fixture.server, http.MethodGet, "/healthz", nil, nil, nil); status != http.StatusOK {
		t.Fatalf("expected 200 for healthz, got %d", status)
	}
}

type serverFixture struct {
	server  *httptest.Server
	now     time.Time
	bonus   *ledger.Service
	carts   *gormstore.CartStore
	catalog *gormstore.CatalogStore
}

func startServer(t *testing.T) *serverFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "httpapi.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := gormstore.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	clock := func() time.Time { return now }
	catalogStore := gormstore.NewCatalogStore(db)
	for _, tour := range []catalog.Tour{
		{ID: "tour-1", AuthorID: "guide-1", Name: "Old Town", Difficulty: 2, Category: 1, Price: decimal.NewFromInt(120), Date: now.Add(96 * time.Hour), State: catalog.StateComplete},
		{ID: "tour-2", AuthorID: "guide-2", Name: "Harbor", Difficulty: 1, Category: 2, Price: decimal.NewFromInt(40), Date: now.Add(240 * time.Hour), State: catalog.StateComplete},
	} {
		if err := catalogStore.SaveTour(context.Background(), tour); err != nil {
			t.Fatalf("save tour: %v", err)
		}
	}

	bonus, err := ledger.NewService(gormstore.NewLedgerStore(db), clock)
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}
	purchaseStore := gormstore.NewPurchaseStore(db)
	cartStore := gormstore.NewCartStore(db)
	purchases, err := purchase.NewService(purchaseStore, catalogStore, cartStore, bonus, discardSender{}, clock)
	if err != nil {
		t.Fatalf("purchase service: %v", err)
	}
	problems, err := problem.NewService(gormstore.NewProblemStore(db), catalogStore, purchaseStore, clock)
	if err != nil {
		t.Fatalf("problem service: %v", err)
	}
	replacements, err := replacement.NewService(gormstore.NewReplacementStore(db), catalogStore, clock)
	if err != nil {
		t.Fatalf("replacement service: %v", err)
	}

	session, err := NewSessionMiddleware(testSigningKey, testIssuer, testCookieName)
	if err != nil {
		t.Fatalf("session middleware: %v", err)
	}
	router, err := NewRouter(RouterConfig{
		AllowedOrigins: []string{"http://localhost:8000"},
		Gatherer:       prometheus.NewRegistry(),
	}, Services{Bonus: bonus, Purchases: purchases, Problems: problems, Replacements: replacements}, session, zap.NewNop())
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &serverFixture{server: server, now: now, bonus: bonus, carts: cartStore, catalog: catalogStore}
}

func sessionCookie(t *testing.T, userID string, roles ...string) *http.Cookie {
	t.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: userID,
		UserRoles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: testCookieName, Value: signed}
}

func doJSON(t *testing.T, server *httptest.Server, method string, path string, cookie *http.Cookie, payload map[string]any, out any) int {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
	}
	req, err := http.NewRequest(method, server.URL+path, &body)
	if err != nil {
		t.Fatalf("request init failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

type discardSender struct{}

func (discardSender) SendPurchaseConfirmation(context.Context, string, notification.PurchaseConfirmation) error {
	return nil
}

func (discardSender) SendTourReminder(context.Context, string, notification.TourReminder) error {
	return nil
}

func (discardSender) SendTourCancellation(context.Context, []string, notification.TourCancellation) error {
	return nil
}
