package context

type Key string

const (
	Claims      Key = "claims"
	Params      Key = "params"
	ApiKey      Key = "api_key"
	Application Key = "application"
)
