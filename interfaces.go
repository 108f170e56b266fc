package storefront

import (
	"github.com/itsneelabh/storefront/pkg/api"
	"github.com/itsneelabh/storefront/pkg/cart"
	"github.com/itsneelabh/storefront/pkg/controller"
	"github.com/itsneelabh/storefront/pkg/logger"
	"github.com/itsneelabh/storefront/pkg/session"
	"github.com/itsneelabh/storefront/pkg/storage"
	"github.com/itsneelabh/storefront/pkg/telemetry"
)

// Type aliases so front ends can depend on the root package only
type (
	Logger    = logger.Logger
	Storage   = storage.Storage
	Telemetry = telemetry.Telemetry
	Session   = session.Session

	Product         = api.Product
	Order           = api.Order
	ShippingDetails = api.ShippingDetails

	CartSnapshot = cart.Snapshot
	CartLine     = cart.Line

	State = controller.State
	Page  = controller.Page
)

// Pages
const (
	PageCatalog  = controller.PageCatalog
	PageLogin    = controller.PageLogin
	PageRegister = controller.PageRegister
	PageOrders   = controller.PageOrders
)
