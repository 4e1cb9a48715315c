package config

const (
	EnvPrefix = "veloura"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv     = "VELOURA_APP_ENV"
	EnvAPIBaseURL = "VELOURA_API_BASE_URL"
	EnvStatePath  = "VELOURA_STATE_PATH"
	EnvLocale     = "VELOURA_LOCALE"
	EnvCurrency   = "VELOURA_CURRENCY"
)
