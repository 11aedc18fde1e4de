package types

// SessionRecord is an ended session persisted for history
type SessionRecord struct {
	CompanyDate      string  `json:"companyDate" dynamodbav:"CompanyDate"` // companyId#YYYY-MM-DD (partition key)
	SessionID        string  `json:"sessionId" dynamodbav:"SessionID"`     // sort key
	CompanyID        string  `json:"companyId" dynamodbav:"CompanyID"`
	AgentCompanyID   string  `json:"agentCompanyId" dynamodbav:"AgentCompanyID"`
	AgentHandle      string  `json:"agentHandle" dynamodbav:"AgentHandle"`
	VisitorID        string  `json:"visitorId" dynamodbav:"VisitorID"`
	Kind             string  `json:"kind" dynamodbav:"Kind"`
	StartedAt        string  `json:"startedAt" dynamodbav:"StartedAt"`           // RFC3339
	ConnectedAt      string  `json:"connectedAt" dynamodbav:"ConnectedAt"`       // RFC3339, empty if never accepted
	EndedAt          string  `json:"endedAt" dynamodbav:"EndedAt"`               // RFC3339
	RingTime         float64 `json:"ringTime" dynamodbav:"RingTime"`             // seconds
	TalkTime         float64 `json:"talkTime" dynamodbav:"TalkTime"`             // seconds
	EndReason        string  `json:"endReason" dynamodbav:"EndReason"`
	ReachedConnected bool    `json:"reachedConnected" dynamodbav:"ReachedConnected"`
}

// CompanyDateKey builds the partition key of a session record
func CompanyDateKey(companyID, date string) string {
	return companyID + "#" + date
}
