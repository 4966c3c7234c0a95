package cnwcommercial

// Services bundles the facades a process needs. Build it once at startup
// and pass it to whatever serves or consumes commercial features.
type Services struct {
	Registry *Registry
	Plugins  *PluginStore
	SaaS     *SaaSService
	License  *LicenseService
	Updates  *UpdateService
}

// NewServices resolves every endpoint from reg and builds the facades with
// the same client options.
func NewServices(reg *Registry, opts ...ClientOption) *Services {
	return &Services{
		Registry: reg,
		Plugins:  NewPluginStore(reg, opts...),
		SaaS:     NewSaaSService(reg, opts...),
		License:  NewLicenseService(reg, opts...),
		Updates:  NewUpdateService(reg, opts...),
	}
}
