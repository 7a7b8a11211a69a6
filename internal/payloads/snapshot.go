package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Address is a postal address as captured at checkout.
type Address struct {
	Name        string `json:"name"`
	Street      string `json:"street"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
}

// OrderLine is one sellable position on the order.
type OrderLine struct {
	SKU         string          `json:"sku"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

// Net returns quantity times unit price.
func (l OrderLine) Net() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Tax returns the tax amount for the line.
func (l OrderLine) Tax() decimal.Decimal {
	return l.Net().Mul(l.TaxRate)
}

// OrderSnapshot is the immutable view of an order at the moment a sync action
// is requested. Builders read from it; nothing writes back.
type OrderSnapshot struct {
	OrderID           uuid.UUID `json:"order_id"`
	OrderNumber       string    `json:"order_number"`
	TenantID          uuid.UUID `json:"tenant_id"`
	Currency          string    `json:"currency"`
	PlacedAt          time.Time `json:"placed_at"`
	CustomerName      string    `json:"customer_name"`
	CustomerEmail     string    `json:"customer_email"`
	ShippingAddress   Address   `json:"shipping_address"`
	ParcelWeightGrams int       `json:"parcel_weight_grams"`
	ServiceLevel      string    `json:"service_level"`
	TrackingNumber    string    `json:"tracking_number"`
	CarrierCode       string    `json:"carrier_code"`
	Lines             []OrderLine `json:"lines"`

	// CommissionRates maps line categories to the marketplace commission
	// rate in force when the push was requested. Resolved by the service,
	// not captured at checkout.
	CommissionRates map[string]decimal.Decimal `json:"commission_rates,omitempty"`
}

// NetTotal sums the net amounts of all lines.
func (s OrderSnapshot) NetTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Lines {
		total = total.Add(line.Net())
	}
	return total
}

// TaxTotal sums the tax amounts of all lines.
func (s OrderSnapshot) TaxTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Lines {
		total = total.Add(line.Tax())
	}
	return total
}

// GrossTotal is net plus tax.
func (s OrderSnapshot) GrossTotal() decimal.Decimal {
	return s.NetTotal().Add(s.TaxTotal())
}

// ExpectedCommission sums net times commission rate over all lines. ok is
// false when any line's category has no resolved rate; a partial figure is
// never reported.
func (s OrderSnapshot) ExpectedCommission() (decimal.Decimal, bool) {
	total := decimal.Zero
	for _, line := range s.Lines {
		rate, ok := s.CommissionRates[line.Category]
		if !ok {
			return decimal.Zero, false
		}
		total = total.Add(line.Net().Mul(rate))
	}
	return total, true
}
