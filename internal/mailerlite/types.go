package mailerlite

// Remote subscriber statuses as the provider reports them.
const (
	RemoteStatusActive       = "active"
	RemoteStatusUnconfirmed  = "unconfirmed"
	RemoteStatusUnsubscribed = "unsubscribed"
	RemoteStatusBounced      = "bounced"
	RemoteStatusJunk         = "junk"
)

// Subscriber is the provider's view of one recipient.
type Subscriber struct {
	ID     string            `json:"id"`
	Email  string            `json:"email"`
	Status string            `json:"status"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Group is a provider-side mailing list segment.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type subscriberResponse struct {
	Data Subscriber `json:"data"`
}

type subscriberListResponse struct {
	Data []Subscriber `json:"data"`
	Meta struct {
		NextCursor string `json:"next_cursor"`
	} `json:"meta"`
}

type groupResponse struct {
	Data Group `json:"data"`
}

type groupListResponse struct {
	Data []Group `json:"data"`
}

type campaignResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type upsertSubscriberRequest struct {
	Email  string            `json:"email"`
	Status string            `json:"status,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
	Groups []string          `json:"groups,omitempty"`
}

type createGroupRequest struct {
	Name string `json:"name"`
}

type campaignEmail struct {
	Subject  string `json:"subject"`
	FromName string `json:"from_name"`
	From     string `json:"from"`
	Content  string `json:"content"`
}

type createCampaignRequest struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Groups []string        `json:"groups"`
	Emails []campaignEmail `json:"emails"`
}

type scheduleCampaignRequest struct {
	Delivery string `json:"delivery"`
}
