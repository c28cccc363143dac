package terminal

// Terminal API envelope. Only the fields this service sends or reads are modelled.

type saleToPOIRequest struct {
	SaleToPOIRequest paymentEnvelope `json:"SaleToPOIRequest"`
}

type paymentEnvelope struct {
	MessageHeader  MessageHeader  `json:"MessageHeader"`
	PaymentRequest PaymentRequest `json:"PaymentRequest"`
}

type MessageHeader struct {
	ProtocolVersion string `json:"ProtocolVersion"`
	MessageClass    string `json:"MessageClass"`
	MessageCategory string `json:"MessageCategory"`
	MessageType     string `json:"MessageType"`
	ServiceID       string `json:"ServiceID"`
	SaleID          string `json:"SaleID"`
	POIID           string `json:"POIID"`
}

type PaymentRequest struct {
	SaleData           SaleData           `json:"SaleData"`
	PaymentTransaction PaymentTransaction `json:"PaymentTransaction"`
}

type SaleData struct {
	SaleToAcquirerData string            `json:"SaleToAcquirerData"`
	SaleTransactionID  SaleTransactionID `json:"SaleTransactionID"`
}

type SaleTransactionID struct {
	TransactionID string `json:"TransactionID"`
	TimeStamp     string `json:"TimeStamp"`
}

type PaymentTransaction struct {
	AmountsReq AmountsReq `json:"AmountsReq"`
}

type AmountsReq struct {
	Currency        string  `json:"Currency"`
	RequestedAmount float64 `json:"RequestedAmount"`
}

type saleToPOIResponse struct {
	SaleToPOIResponse struct {
		PaymentResponse *struct {
			PaymentResult *struct {
				AmountsResp *AmountsResp `json:"AmountsResp"`
			} `json:"PaymentResult"`
		} `json:"PaymentResponse"`
	} `json:"SaleToPOIResponse"`
}

type AmountsResp struct {
	AuthorizedAmount float64 `json:"AuthorizedAmount"`
	Currency         string  `json:"Currency"`
}
