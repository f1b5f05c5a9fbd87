package models

type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "CONNECTING"
	StatusConnected    ConnectionStatus = "CONNECTED"
	StatusDisconnected ConnectionStatus = "DISCONNECTED"
	StatusError        ConnectionStatus = "ERROR"
)

// FeedStatus is the aggregate status of the multiplexed ticker feed.
type FeedStatus string

const (
	FeedConnecting FeedStatus = "connecting"
	FeedConnected  FeedStatus = "connected"
	FeedError      FeedStatus = "error"
)

type FeedType string

const (
	FeedSpot         FeedType = "Spot"
	FeedUMargined    FeedType = "USDT-M"
	FeedCoinMargined FeedType = "COIN-M"
)

// FeedTypes lists the feeds a supervisor owns, in opening order.
var FeedTypes = []FeedType{FeedSpot, FeedUMargined, FeedCoinMargined}
