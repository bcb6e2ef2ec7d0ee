package domain

import (
	"time"
)

// Closed enumerations for TransactionRecord categorical fields.
var (
	Currencies         = []string{"USD", "EUR", "GBP", "INR", "JPY"}
	PaymentMethods     = []string{"CreditCard", "DebitCard", "PayPal", "BankTransfer", "Crypto"}
	CardTypes          = []string{"Visa", "MasterCard", "Amex", "Discover"}
	CardIssuers        = []string{"Chase", "BankOfAmerica", "Citi", "WellsFargo", "CapitalOne", "HSBC"}
	Countries          = []string{"US", "UK", "CA", "DE", "FR", "IN", "NG", "BR"}
	MerchantCategories = []string{"Groceries", "Electronics", "Travel", "Entertainment", "Clothing", "Gambling", "Utilities"}
	DeviceTypes        = []string{"Desktop", "Mobile", "Tablet"}
	DeviceOSes         = []string{"Windows", "MacOS", "Linux", "iOS", "Android"}
	Browsers           = []string{"Chrome", "Firefox", "Safari", "Edge"}
	EmailDomains       = []string{"gmail.com", "yahoo.com", "hotmail.com", "outlook.com", "mail.ru", "protonmail.com"}
	ProductCodes       = []string{"H", "C", "S", "R", "W"}
)

// TransactionRecord is one transaction submitted to the scoring service.
// JSON names follow the scoring backend's flat schema.
type TransactionRecord struct {
	// Financial details
	TransactionAmount      float64 `json:"TransactionAmount" validate:"gt=0"`
	Currency               string  `json:"Currency" validate:"oneof=USD EUR GBP INR JPY"`
	AvgTransactionAmount   float64 `json:"AvgTransactionAmount" validate:"gte=0"`
	AmountDeviationFromAvg float64 `json:"AmountDeviationFromAvg"`

	// Behavioral counters
	TransactionsLast1Hr      int     `json:"TransactionsLast1Hr" validate:"gte=0"`
	TransactionsLast24Hr     int     `json:"TransactionsLast24Hr" validate:"gte=0,gtefield=TransactionsLast1Hr"`
	TimeSinceLastTransaction float64 `json:"TimeSinceLastTransaction" validate:"gte=0"` // hours
	DistanceFromHome         float64 `json:"DistanceFromHome" validate:"gte=0"`         // km
	UserAccountAgeDays       int     `json:"UserAccountAgeDays" validate:"gte=0"`

	// Card and billing
	PaymentMethod  string `json:"PaymentMethod" validate:"oneof=CreditCard DebitCard PayPal BankTransfer Crypto"`
	CardType       string `json:"CardType" validate:"oneof=Visa MasterCard Amex Discover"`
	CardIssuer     string `json:"CardIssuer" validate:"oneof=Chase BankOfAmerica Citi WellsFargo CapitalOne HSBC"`
	CardCountry    string `json:"CardCountry" validate:"oneof=US UK CA DE FR IN NG BR"`
	CardID         int    `json:"CardID" validate:"omitempty,gte=1000,lte=9999"`
	BillingAddress int    `json:"BillingAddress" validate:"omitempty,gte=100,lte=999"`
	BillingCountry string `json:"BillingCountry" validate:"oneof=US UK CA DE FR IN NG BR"`

	// Merchant
	MerchantID       string `json:"MerchantID"`
	MerchantCategory string `json:"MerchantCategory" validate:"oneof=Groceries Electronics Travel Entertainment Clothing Gambling Utilities"`
	MerchantCountry  string `json:"MerchantCountry" validate:"oneof=US UK CA DE FR IN NG BR"`
	ProductCode      string `json:"ProductCD" validate:"oneof=H C S R W"`

	// Device and session
	UserID            string `json:"UserID"`
	DeviceType        string `json:"DeviceType" validate:"oneof=Desktop Mobile Tablet"`
	DeviceOS          string `json:"DeviceOS" validate:"oneof=Windows MacOS Linux iOS Android"`
	Browser           string `json:"Browser" validate:"oneof=Chrome Firefox Safari Edge"`
	DeviceFingerprint string `json:"DeviceFingerprint"`
	IPAddress         string `json:"IPAddress" validate:"omitempty,ipv4"`
	EmailDomain       string `json:"EmailDomain" validate:"omitempty,oneof=gmail.com yahoo.com hotmail.com outlook.com mail.ru protonmail.com"`

	// Risk flags
	IsHighRiskMerchant bool `json:"IsHighRiskMerchant"`
	IPIsProxy          bool `json:"IPIsProxy"`
	IsNewDevice        bool `json:"IsNewDevice"`
	IsEmailGeneric     bool `json:"IsEmailGeneric"`
	IsHoliday          bool `json:"IsHoliday"`

	TransactionText string    `json:"TransactionText"`
	Timestamp       time.Time `json:"Timestamp"`

	// Features is only serialized through the legacy envelope.
	Features *ModelFeatures `json:"-"`
}

// ModelFeatures are the anonymized features consumed by the legacy ensemble model.
type ModelFeatures struct {
	Card2    int         `json:"card2"`
	Card3    int         `json:"card3"`
	Card5    int         `json:"card5"`
	C1       int         `json:"C1"`
	C2       int         `json:"C2"`
	D1       int         `json:"D1"`
	D15      int         `json:"D15"`
	V95      float64     `json:"V95"`
	V96      float64     `json:"V96"`
	V97      float64     `json:"V97"`
	V126     float64     `json:"V126"`
	V127     float64     `json:"V127"`
	Sequence [][]float64 `json:"sequence"`
	Network  NetworkData `json:"network"`
}

// NetworkData is the payment graph around a transaction.
type NetworkData struct {
	Nodes map[string]NetworkNode `json:"nodes"`
	Edges []NetworkEdge          `json:"edges"`
}

// NetworkNode describes one party in the payment graph.
type NetworkNode struct {
	TransactionCount int     `json:"transaction_count"`
	TotalAmount      float64 `json:"total_amount"`
	RiskScore        float64 `json:"risk_score"`
	Age              int     `json:"age"`
	IsBusiness       int     `json:"is_business"`
}

// NetworkEdge is a money movement between two nodes.
type NetworkEdge struct {
	Source          string  `json:"source"`
	Target          string  `json:"target"`
	Amount          float64 `json:"amount"`
	Timestamp       int64   `json:"timestamp"`
	Frequency       int     `json:"frequency"`
	IsInternational int     `json:"is_international"`
}

// LegacyEnvelope is the wrapped request shape accepted by the ensemble endpoint.
type LegacyEnvelope struct {
	TransactionData     LegacyTransactionData `json:"transaction_data"`
	TransactionSequence [][]float64           `json:"transaction_sequence"`
	TransactionText     string                `json:"transaction_text"`
	NetworkData         NetworkData           `json:"network_data"`
	Metadata            LegacyMetadata        `json:"metadata"`
}

// LegacyTransactionData carries the IEEE-CIS style feature columns.
type LegacyTransactionData struct {
	TransactionAmt float64 `json:"TransactionAmt"`
	ProductCD      string  `json:"ProductCD"`
	Card1          int     `json:"card1"`
	Card2          int     `json:"card2"`
	Card3          int     `json:"card3"`
	Card5          int     `json:"card5"`
	Addr1          int     `json:"addr1"`
	Dist1          int     `json:"dist1"`
	C1             int     `json:"C1"`
	C2             int     `json:"C2"`
	D1             int     `json:"D1"`
	D15            int     `json:"D15"`
	V95            float64 `json:"V95"`
	V96            float64 `json:"V96"`
	V97            float64 `json:"V97"`
	V126           float64 `json:"V126"`
	V127           float64 `json:"V127"`
	TransactionDT  int64   `json:"TransactionDT"`
	PEmailDomain   string  `json:"P_emaildomain"`
}

// LegacyMetadata describes the session that produced the transaction.
type LegacyMetadata struct {
	UserID            string `json:"user_id"`
	DeviceFingerprint string `json:"device_fingerprint"`
	IPAddress         string `json:"ip_address"`
	Browser           string `json:"browser"`
	LoginTime         string `json:"login_time"`
	AccountAgeDays    int    `json:"account_age_days"`
}

// Legacy converts the record to the wrapped envelope.
// Records without Features (manual entry) get an empty sequence and graph.
func (r *TransactionRecord) Legacy() *LegacyEnvelope {
	f := r.Features
	if f == nil {
		f = &ModelFeatures{}
	}

	sequence := f.Sequence
	if sequence == nil {
		sequence = [][]float64{}
	}
	network := f.Network
	if network.Nodes == nil {
		network.Nodes = map[string]NetworkNode{}
	}
	if network.Edges == nil {
		network.Edges = []NetworkEdge{}
	}

	return &LegacyEnvelope{
		TransactionData: LegacyTransactionData{
			TransactionAmt: r.TransactionAmount,
			ProductCD:      r.ProductCode,
			Card1:          r.CardID,
			Card2:          f.Card2,
			Card3:          f.Card3,
			Card5:          f.Card5,
			Addr1:          r.BillingAddress,
			Dist1:          int(r.DistanceFromHome),
			C1:             f.C1,
			C2:             f.C2,
			D1:             f.D1,
			D15:            f.D15,
			V95:            f.V95,
			V96:            f.V96,
			V97:            f.V97,
			V126:           f.V126,
			V127:           f.V127,
			TransactionDT:  r.Timestamp.Unix(),
			PEmailDomain:   r.EmailDomain,
		},
		TransactionSequence: sequence,
		TransactionText:     r.TransactionText,
		NetworkData:         network,
		Metadata: LegacyMetadata{
			UserID:            r.UserID,
			DeviceFingerprint: r.DeviceFingerprint,
			IPAddress:         r.IPAddress,
			Browser:           r.Browser,
			LoginTime:         r.Timestamp.UTC().Format(time.RFC3339),
			AccountAgeDays:    r.UserAccountAgeDays,
		},
	}
}
