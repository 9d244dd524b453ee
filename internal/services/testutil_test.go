package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/nivora/internal/database"
	"github.com/example/nivora/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func createUser(t *testing.T, db *gorm.DB, name, affiliateCode string) *models.User {
	t.Helper()
	user := models.User{
		Name:          name,
		Email:         name + "@example.com",
		Phone:         "9999999999",
		AffiliateCode: affiliateCode,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func createProduct(t *testing.T, db *gorm.DB, name string, price, commissionPercent, cashback float64) *models.Product {
	t.Helper()
	product := models.Product{
		Name:              name,
		Slug:              name,
		Price:             price,
		CommissionPercent: commissionPercent,
		Cashback:          cashback,
		IsActive:          true,
	}
	require.NoError(t, db.Create(&product).Error)
	return &product
}

func createCombo(t *testing.T, db *gorm.DB, name string, price, cashback float64, productIDs []uint) *models.Combo {
	t.Helper()
	encoded, err := json.Marshal(productIDs)
	require.NoError(t, err)
	combo := models.Combo{
		Name:       name,
		Price:      price,
		Cashback:   cashback,
		ProductIDs: string(encoded),
		IsActive:   true,
	}
	require.NoError(t, db.Create(&combo).Error)
	return &combo
}

func uintPtr(v uint) *uint { return &v }

// fakeCourier simulates the shipping aggregator API and counts the calls
// it receives.
type fakeCourier struct {
	mu                  sync.Mutex
	serviceabilityCalls int
	createCalls         int
	awbCalls            int

	serviceable bool
	createFail  bool
	awbReady    bool
	awbCode     string

	server *httptest.Server
}

func newFakeCourier(t *testing.T) *fakeCourier {
	t.Helper()
	f := &fakeCourier{serviceable: true, awbReady: true, awbCode: "AWB123456"}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "test-token"})
	})
	mux.HandleFunc("/courier/serviceability/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.serviceabilityCalls++
		serviceable := f.serviceable
		f.mu.Unlock()

		companies := []map[string]any{}
		if serviceable {
			companies = append(companies, map[string]any{
				"courier_company_id": 14,
				"courier_name":       "Test Express",
				"rate":               62.5,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": 200,
			"data":   map[string]any{"available_courier_companies": companies},
		})
	})
	mux.HandleFunc("/orders/create/adhoc", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.createCalls++
		fail := f.createFail
		awb := ""
		if f.awbReady {
			awb = f.awbCode
		}
		f.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"message":"upstream unavailable"}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"order_id":    701001,
			"shipment_id": 801001,
			"awb_code":    awb,
			"status":      "NEW",
		})
	})
	mux.HandleFunc("/courier/assign/awb", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.awbCalls++
		ready := f.awbReady
		awb := f.awbCode
		f.mu.Unlock()

		if !ready {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{"awb_assign_status":0}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"awb_assign_status": 1,
			"response": map[string]any{
				"data": map[string]any{"awb_code": awb},
			},
		})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCourier) service() *CourierService {
	return NewCourierService(CourierConfig{
		BaseURL:       f.server.URL,
		Email:         "ops@example.com",
		Password:      "secret",
		PickupPincode: "110001",
	})
}

func (f *fakeCourier) counts() (serviceability, create, awb int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serviceabilityCalls, f.createCalls, f.awbCalls
}

// orderEnv bundles the full checkout service graph against an in-memory
// database and a fake courier.
type orderEnv struct {
	db         *gorm.DB
	wallets    *WalletService
	shipping   *ShippingService
	settlement *SettlementService
	orders     *OrderService
	courier    *fakeCourier
}

func newOrderEnv(t *testing.T) *orderEnv {
	t.Helper()

	db := newTestDB(t)
	courier := newFakeCourier(t)

	wallets := NewWalletService(db)
	commission := NewCommissionService(db)
	shipping := NewShippingService(db, courier.service())
	mailer := NewMailService(MailConfig{})
	telegram := NewTelegramService("", "")
	events := NewEventService("", "")

	return &orderEnv{
		db:         db,
		wallets:    wallets,
		shipping:   shipping,
		settlement: NewSettlementService(db, wallets, mailer, telegram, events),
		orders:     NewOrderService(db, wallets, commission, shipping, mailer, telegram, events, 0, 0),
		courier:    courier,
	}
}

func addressJSON(pincode string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"name":"Asha","phone":"9876543210","address":"12 MG Road, Bengaluru","pincode":%q}`, pincode))
}
