package events

// Event enumerates outbound topics inside the trader core.
type Event string

const (
	EventTweetMatch  Event = "tweet.match"
	EventOrderBought Event = "order.bought"
	EventOrderSold   Event = "order.sold"
	EventPriceTick   Event = "price.tick"
	EventError       Event = "error"
)

// Button is an inline action the front end renders under a broadcast.
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// Broadcast is one outbound message for the command front end. Payloads carry
// the chat id so a single subscriber keeps per-channel ordering.
type Broadcast struct {
	ChatID  string   `json:"chat_id"`
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
}
