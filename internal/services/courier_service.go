package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const courierTokenLeeway = 30 * time.Second

var (
	// ErrCourierDisabled is returned when courier credentials are not
	// configured.
	ErrCourierDisabled = errors.New("courier integration is not configured")
	// ErrAWBNotReady signals the carrier has accepted the request but the
	// label is not available yet; callers should retry later.
	ErrAWBNotReady = errors.New("awb not yet available")
)

// CourierConfig holds courier API credentials.
type CourierConfig struct {
	BaseURL       string
	Email         string
	Password      string
	PickupPincode string
}

// CourierService is a client for the shipping aggregator API. It caches
// the bearer token behind a mutex and retries once on 401.
type CourierService struct {
	cfg    CourierConfig
	client *http.Client

	tokenMu     sync.RWMutex
	token       string
	tokenExpiry time.Time
}

// NewCourierService constructs CourierService.
func NewCourierService(cfg CourierConfig) *CourierService {
	return &CourierService{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether courier credentials are configured.
func (s *CourierService) Enabled() bool {
	return s.cfg.Email != "" && s.cfg.Password != ""
}

// PickupPincode returns the configured warehouse pickup pincode.
func (s *CourierService) PickupPincode() string {
	return s.cfg.PickupPincode
}

type courierAuthResponse struct {
	Token string `json:"token"`
}

func (s *CourierService) getToken(force bool) (string, error) {
	if !s.Enabled() {
		return "", ErrCourierDisabled
	}

	if !force {
		s.tokenMu.RLock()
		if s.token != "" && time.Now().Add(courierTokenLeeway).Before(s.tokenExpiry) {
			t := s.token
			s.tokenMu.RUnlock()
			return t, nil
		}
		s.tokenMu.RUnlock()
	}

	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	// Check again in case another goroutine refreshed while we waited.
	if !force && s.token != "" && time.Now().Add(courierTokenLeeway).Before(s.tokenExpiry) {
		return s.token, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"email":    s.cfg.Email,
		"password": s.cfg.Password,
	})

	req, err := http.NewRequest(http.MethodPost, s.cfg.BaseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build courier auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute courier auth request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("courier auth failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var authResp courierAuthResponse
	if err := json.Unmarshal(body, &authResp); err != nil {
		return "", fmt.Errorf("unmarshal courier auth response: %w", err)
	}
	if authResp.Token == "" {
		return "", errors.New("courier auth response missing token")
	}

	s.token = authResp.Token
	// The aggregator issues 10-day tokens; refresh well before that.
	s.tokenExpiry = time.Now().Add(24 * time.Hour)

	return s.token, nil
}

type courierRequestOpts struct {
	Method string
	Path   string
	Query  map[string]string
	Body   any
}

type courierResponse struct {
	Status int
	Body   []byte
}

func (s *CourierService) doRequest(opts courierRequestOpts) (*courierResponse, error) {
	token, err := s.getToken(false)
	if err != nil {
		return nil, err
	}

	build := func(token string) (*http.Request, error) {
		target := s.cfg.BaseURL + "/" + strings.TrimLeft(opts.Path, "/")
		if len(opts.Query) > 0 {
			values := url.Values{}
			for k, v := range opts.Query {
				values.Set(k, v)
			}
			target += "?" + values.Encode()
		}

		var bodyReader io.Reader
		if opts.Body != nil {
			data, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, fmt.Errorf("marshal courier request body: %w", err)
			}
			bodyReader = bytes.NewReader(data)
		}

		method := opts.Method
		if method == "" {
			method = http.MethodGet
		}

		req, err := http.NewRequest(method, target, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("build courier request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	}

	do := func(req *http.Request) (*courierResponse, error) {
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute courier request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read courier response: %w", err)
		}
		return &courierResponse{Status: resp.StatusCode, Body: body}, nil
	}

	req, err := build(token)
	if err != nil {
		return nil, err
	}

	resp, err := do(req)
	if err != nil {
		return nil, err
	}

	if resp.Status != http.StatusUnauthorized {
		return resp, nil
	}

	// Token likely expired; refresh and retry once.
	token, err = s.getToken(true)
	if err != nil {
		return nil, err
	}
	req, err = build(token)
	if err != nil {
		return nil, err
	}
	return do(req)
}

// CourierCompany is one carrier option returned by the serviceability check.
type CourierCompany struct {
	ID   int     `json:"courier_company_id"`
	Name string  `json:"courier_name"`
	Rate float64 `json:"rate"`
}

type serviceabilityResponse struct {
	Status int `json:"status"`
	Data   struct {
		AvailableCourierCompanies []CourierCompany `json:"available_courier_companies"`
	} `json:"data"`
}

// GetServiceability returns the carriers able to deliver between the two
// pincodes for the given parcel weight and payment mode.
func (s *CourierService) GetServiceability(pickupPincode, deliveryPincode string, weightKg float64, isCOD bool) ([]CourierCompany, error) {
	cod := "0"
	if isCOD {
		cod = "1"
	}

	resp, err := s.doRequest(courierRequestOpts{
		Method: http.MethodGet,
		Path:   "courier/serviceability/",
		Query: map[string]string{
			"pickup_postcode":   pickupPincode,
			"delivery_postcode": deliveryPincode,
			"weight":            fmt.Sprintf("%.2f", weightKg),
			"cod":               cod,
		},
	})
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("courier serviceability: status %d, body: %s", resp.Status, string(resp.Body))
	}

	var parsed serviceabilityResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal serviceability response: %w", err)
	}

	return parsed.Data.AvailableCourierCompanies, nil
}

// CourierOrderItem is one line of a shipment order payload.
type CourierOrderItem struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
}

// CourierOrderPayload describes a shipment to create with the carrier.
type CourierOrderPayload struct {
	OrderID           string             `json:"order_id"`
	OrderDate         string             `json:"order_date"`
	PickupLocation    string             `json:"pickup_location"`
	BillingName       string             `json:"billing_customer_name"`
	BillingAddress    string             `json:"billing_address"`
	BillingPincode    string             `json:"billing_pincode"`
	BillingPhone      string             `json:"billing_phone"`
	BillingEmail      string             `json:"billing_email"`
	ShippingIsBilling bool               `json:"shipping_is_billing"`
	PaymentMethod     string             `json:"payment_method"`
	SubTotal          float64            `json:"sub_total"`
	WeightKg          float64            `json:"weight"`
	Items             []CourierOrderItem `json:"order_items"`
}

// CourierOrderResult is the carrier's response to order creation.
type CourierOrderResult struct {
	OrderID    json.Number `json:"order_id"`
	ShipmentID json.Number `json:"shipment_id"`
	AWBCode    string      `json:"awb_code"`
	Status     string      `json:"status"`
}

// CreateOrder registers a shipment with the carrier.
func (s *CourierService) CreateOrder(payload CourierOrderPayload) (*CourierOrderResult, error) {
	resp, err := s.doRequest(courierRequestOpts{
		Method: http.MethodPost,
		Path:   "orders/create/adhoc",
		Body:   payload,
	})
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("courier create order: status %d, body: %s", resp.Status, string(resp.Body))
	}

	var result CourierOrderResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal create order response: %w", err)
	}
	return &result, nil
}

type awbResponse struct {
	AWBAssignStatus int `json:"awb_assign_status"`
	Response        struct {
		Data struct {
			AWBCode string `json:"awb_code"`
		} `json:"data"`
	} `json:"response"`
}

// GenerateAWB requests an air waybill for an already-created shipment.
func (s *CourierService) GenerateAWB(shipmentID string, courierCompanyID int) (string, error) {
	resp, err := s.doRequest(courierRequestOpts{
		Method: http.MethodPost,
		Path:   "courier/assign/awb",
		Body: map[string]any{
			"shipment_id": shipmentID,
			"courier_id":  courierCompanyID,
		},
	})
	if err != nil {
		return "", err
	}
	if resp.Status == http.StatusAccepted {
		return "", ErrAWBNotReady
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return "", fmt.Errorf("courier assign awb: status %d, body: %s", resp.Status, string(resp.Body))
	}

	var parsed awbResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal awb response: %w", err)
	}
	if parsed.Response.Data.AWBCode == "" {
		return "", ErrAWBNotReady
	}
	return parsed.Response.Data.AWBCode, nil
}

// GetOrderDetails fetches the carrier's view of an order.
func (s *CourierService) GetOrderDetails(courierOrderID string) (json.RawMessage, error) {
	resp, err := s.doRequest(courierRequestOpts{
		Method: http.MethodGet,
		Path:   "orders/show/" + courierOrderID,
	})
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("courier order details: status %d, body: %s", resp.Status, string(resp.Body))
	}
	return json.RawMessage(resp.Body), nil
}

type trackResponse struct {
	TrackingData struct {
		ShipmentTrack []struct {
			CurrentStatus string `json:"current_status"`
		} `json:"shipment_track"`
	} `json:"tracking_data"`
}

// TrackOrder returns the carrier's current free-text status for an order.
func (s *CourierService) TrackOrder(courierOrderID string) (string, error) {
	resp, err := s.doRequest(courierRequestOpts{
		Method: http.MethodGet,
		Path:   "courier/track",
		Query:  map[string]string{"order_id": courierOrderID},
	})
	if err != nil {
		return "", err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return "", fmt.Errorf("courier track: status %d, body: %s", resp.Status, string(resp.Body))
	}

	var parsed trackResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal track response: %w", err)
	}
	if len(parsed.TrackingData.ShipmentTrack) == 0 {
		return "", errors.New("no tracking data")
	}
	return parsed.TrackingData.ShipmentTrack[0].CurrentStatus, nil
}
