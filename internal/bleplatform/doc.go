// Package bleplatform opens the host BLE adapter for the platform the
// binary was built for. Each transport actor calls NewDevice once and
// owns the returned handle exclusively for its lifetime.
package bleplatform
