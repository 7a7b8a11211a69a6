package payloads

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func requireOrderID(s OrderSnapshot) (any, error) {
	if s.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id missing")
	}
	return s.OrderID.String(), nil
}

func requireString(value, what string) (any, error) {
	if value == "" {
		return nil, fmt.Errorf("%s missing", what)
	}
	return value, nil
}

func money(value decimal.Decimal) any {
	// Two decimal places on the wire regardless of line-level precision.
	return value.StringFixed(2)
}

// ERPDocument renders the accounting document posted to the ERP: header
// identifiers, totals, and one position per order line.
func ERPDocument() *Schema {
	schema, err := NewSchema("erp_document",
		Field{Name: "order_id", Get: requireOrderID},
		Field{Name: "document_number", Get: func(s OrderSnapshot) (any, error) {
			return requireString(s.OrderNumber, "order number")
		}},
		Field{Name: "currency", Get: func(s OrderSnapshot) (any, error) {
			return requireString(s.Currency, "currency")
		}},
		Field{Name: "posted_for", Get: func(s OrderSnapshot) (any, error) {
			return requireString(s.CustomerName, "customer name")
		}},
		Field{Name: "issue_date", Get: func(s OrderSnapshot) (any, error) {
			if s.PlacedAt.IsZero() {
				return nil, fmt.Errorf("placed_at missing")
			}
			return s.PlacedAt.UTC().Format("2006-01-02"), nil
		}},
		Field{Name: "net_total", Get: func(s OrderSnapshot) (any, error) {
			return money(s.NetTotal()), nil
		}},
		Field{Name: "tax_total", Get: func(s OrderSnapshot) (any, error) {
			return money(s.TaxTotal()), nil
		}},
		Field{Name: "gross_total", Get: func(s OrderSnapshot) (any, error) {
			return money(s.GrossTotal()), nil
		}},
		Field{Name: "positions", Get: func(s OrderSnapshot) (any, error) {
			if len(s.Lines) == 0 {
				return nil, fmt.Errorf("order has no lines")
			}
			positions := make([]map[string]any, len(s.Lines))
			for i, line := range s.Lines {
				if line.SKU == "" {
					return nil, fmt.Errorf("line %d: sku missing", i)
				}
				positions[i] = map[string]any{
					"sku":        line.SKU,
					"text":       line.Description,
					"quantity":   line.Quantity,
					"unit_price": money(line.UnitPrice),
					"net":        money(line.Net()),
					"tax":        money(line.Tax()),
				}
			}
			return positions, nil
		}},
	)
	if err != nil {
		panic(err)
	}
	return schema
}

// CarrierLabel renders the shipment data a carrier needs to issue a label.
func CarrierLabel() *Schema {
	schema, err := NewSchema("carrier_label",
		Field{Name: "order_id", Get: requireOrderID},
		Field{Name: "reference", Get: func(s OrderSnapshot) (any, error) {
			return requireString(s.OrderNumber, "order number")
		}},
		Field{Name: "service_level", Get: func(s OrderSnapshot) (any, error) {
			return requireString(s.ServiceLevel, "service level")
		}},
		Field{Name: "weight_grams", Get: func(s OrderSnapshot) (any, error) {
			if s.ParcelWeightGrams <= 0 {
				return nil, fmt.Errorf("parcel weight missing")
			}
			return s.ParcelWeightGrams, nil
		}},
		Field{Name: "recipient", Get: func(s OrderSnapshot) (any, error) {
			addr := s.ShippingAddress
			for what, v := range map[string]string{
				"recipient name": addr.Name,
				"street":         addr.Street,
				"city":           addr.City,
				"postal code":    addr.PostalCode,
				"country code":   addr.CountryCode,
			} {
				if v == "" {
					return nil, fmt.Errorf("%s missing", what)
				}
			}
			return addr, nil
		}},
	)
	if err != nil {
		panic(err)
	}
	return schema
}

// MarketplaceTracking renders the fulfillment update pushed back to the
// marketplace once a shipment exists.
func MarketplaceTracking() *Schema {
	schema, err := NewSchema("marketplace_tracking",
		Field{Name: "order_id", Get: requireOrderID},
		Field{Name: "order_number", Get: func(s OrderSnapshot) (any, error) {
			return requireString(s.OrderNumber, "order number")
		}},
		Field{Name: "carrier_code", Get: func(s OrderSnapshot) (any, error) {
			return requireString(s.CarrierCode, "carrier code")
		}},
		Field{Name: "tracking_number", Get: func(s OrderSnapshot) (any, error) {
			return requireString(s.TrackingNumber, "tracking number")
		}},
		Field{Name: "line_skus", Get: func(s OrderSnapshot) (any, error) {
			if len(s.Lines) == 0 {
				return nil, fmt.Errorf("order has no lines")
			}
			skus := make([]string, len(s.Lines))
			for i, line := range s.Lines {
				if line.SKU == "" {
					return nil, fmt.Errorf("line %d: sku missing", i)
				}
				skus[i] = line.SKU
			}
			return skus, nil
		}},
		// Advisory figure for reconciliation; null when any line category
		// has no resolved commission rate.
		Field{Name: "expected_commission", Get: func(s OrderSnapshot) (any, error) {
			commission, ok := s.ExpectedCommission()
			if !ok {
				return nil, nil
			}
			return money(commission), nil
		}},
	)
	if err != nil {
		panic(err)
	}
	return schema
}
