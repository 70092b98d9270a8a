package container

import "github.com/samber/do"

// ServerPackages registers every package the HTTP server needs.
func ServerPackages(injector *do.Injector, options *Options) {
	do.ProvideValue(injector, options)
	LoggerPackage(injector)
	RedisPackage(injector)
	PostgresPackage(injector)
	MetricsPackage(injector)
	StorePackage(injector)
	RateLimitPackage(injector)
	InstancePackage(injector)
	PublisherGroupPackage(injector)
	HTTPPackage(injector)
}

// ConsumerPackages registers every package the event consumer needs.
func ConsumerPackages(injector *do.Injector, options *Options) {
	do.ProvideValue(injector, options)
	LoggerPackage(injector)
	RedisPackage(injector)
	ConsumerGroupPackage(injector)
}
