// Package navigator реализует клиентскую маршрутизацию с гейтингом по роли.
package navigator

import (
	"net/url"
	"strings"
	"sync"

	"github.com/mmeshcher/farmart-client/internal/model"
)

// Page перечисляет все отображаемые экраны клиента.
type Page int

const (
	PageLoading Page = iota
	PageBuyerLanding
	PageShop
	PageBuyerAuth
	PageMyOrders
	PageContact
	PagePaymentStatus
	PageFarmerLanding
	PageFarmerAuth
	PageFarmerDashboard
	PageFarmerListings
	PageFarmerOrders
	PageFarmerContact
	PageNotFound
)

var pageNames = map[Page]string{
	PageLoading:         "loading",
	PageBuyerLanding:    "buyer-landing",
	PageShop:            "shop",
	PageBuyerAuth:       "buyer-auth",
	PageMyOrders:        "my-orders",
	PageContact:         "contact",
	PagePaymentStatus:   "payment-status",
	PageFarmerLanding:   "farmer-landing",
	PageFarmerAuth:      "farmer-auth",
	PageFarmerDashboard: "farmer-dashboard",
	PageFarmerListings:  "farmer-listings",
	PageFarmerOrders:    "farmer-orders",
	PageFarmerContact:   "farmer-contact",
	PageNotFound:        "not-found",
}

func (p Page) String() string {
	if name, ok := pageNames[p]; ok {
		return name
	}
	return "unknown"
}

// Route описывает разобранное значение адресной строки.
type Route struct {
	Path  string
	Query url.Values
}

// ParseRoute разбирает строку адреса на путь и параметры.
func ParseRoute(location string) Route {
	path := location
	query := url.Values{}

	if i := strings.IndexByte(location, '?'); i >= 0 {
		path = location[:i]
		if q, err := url.ParseQuery(location[i+1:]); err == nil {
			query = q
		}
	}

	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}

	return Route{Path: path, Query: query}
}

// String восстанавливает адресную строку маршрута.
func (r Route) String() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

type requirement int

const (
	requireNone requirement = iota
	requireAuth
	requireBuyer
	requireFarmer
)

// routeEntry связывает путь со страницей и предикатом доступа.
// authHome задаёт домашнюю страницу, на которую уже аутентифицированный
// пользователь подходящей роли уводится с страницы входа без промежуточного кадра.
type routeEntry struct {
	path     string
	page     Page
	require  requirement
	authHome Page
	homeRole model.Role
	homePath string
}

// Таблица маршрутов — единственное место, где объявлен гейтинг страниц.
var routes = []routeEntry{
	{path: "/", page: PageBuyerLanding, require: requireNone},
	{path: "/shop", page: PageShop, require: requireNone},
	{path: "/auth", page: PageBuyerAuth, require: requireNone, authHome: PageShop, homeRole: model.RoleBuyer, homePath: "/shop"},
	{path: "/my-orders", page: PageMyOrders, require: requireAuth},
	{path: "/contact", page: PageContact, require: requireNone},
	{path: "/payment-status", page: PagePaymentStatus, require: requireAuth},
	{path: "/seller", page: PageFarmerLanding, require: requireNone},
	{path: "/seller/auth", page: PageFarmerAuth, require: requireNone, authHome: PageFarmerDashboard, homeRole: model.RoleFarmer, homePath: "/seller/dashboard"},
	{path: "/seller/dashboard", page: PageFarmerDashboard, require: requireFarmer},
	{path: "/seller/listings", page: PageFarmerListings, require: requireFarmer},
	{path: "/seller/orders", page: PageFarmerOrders, require: requireFarmer},
	{path: "/seller/contact", page: PageFarmerContact, require: requireFarmer},
}

func lookupRoute(path string) (routeEntry, bool) {
	for _, e := range routes {
		if e.path == path {
			return e, true
		}
	}
	return routeEntry{}, false
}

// ResolvePage отображает маршрут и сессию в страницу. Функция чистая и
// тотальная: неизвестный маршрут даёт PageNotFound, незавершённый
// bootstrap — PageLoading, паник и ошибок нет.
func ResolvePage(route Route, sess model.Session, ready bool) Page {
	if !ready {
		return PageLoading
	}

	entry, ok := lookupRoute(route.Path)
	if !ok {
		return PageNotFound
	}

	switch entry.require {
	case requireNone:
		// Страница входа портала при совпадающей роли сразу отдаёт домашнюю
		// страницу роли: форма входа не появляется ни на один кадр.
		if entry.homePath != "" && sess.Authenticated() && sess.Role == entry.homeRole {
			return entry.authHome
		}
		return entry.page
	case requireAuth:
		if !sess.Authenticated() {
			return fallbackAuthPage(route.Path)
		}
		return entry.page
	case requireBuyer:
		if !sess.Authenticated() || sess.Role != model.RoleBuyer {
			return PageBuyerAuth
		}
		return entry.page
	case requireFarmer:
		if !sess.Authenticated() || sess.Role != model.RoleFarmer {
			return PageFarmerAuth
		}
		return entry.page
	}

	return PageNotFound
}

// fallbackAuthPage выбирает страницу входа портала, которому принадлежит путь.
func fallbackAuthPage(path string) Page {
	if strings.HasPrefix(path, "/seller") {
		return PageFarmerAuth
	}
	return PageBuyerAuth
}

// History описывает браузерную историю, в которую навигатор пишет переходы.
type History interface {
	Push(location string)
}

// SessionReader описывает чтение сессии, достаточное для гейтинга.
type SessionReader interface {
	Ready() bool
	Snapshot() model.Session
}

// Navigator держит регистр текущего маршрута и пересчитывает страницу
// при каждом его изменении. Сетевых вызовов не делает и ошибок не возвращает.
type Navigator struct {
	history History
	session SessionReader

	mu        sync.Mutex
	current   Route
	listeners []func(Page)
}

// New создаёт навигатор с начальным маршрутом "/".
func New(history History, session SessionReader) *Navigator {
	return &Navigator{
		history: history,
		session: session,
		current: Route{Path: "/", Query: url.Values{}},
	}
}

// Subscribe регистрирует обработчик, вызываемый после каждого пересчёта страницы.
func (n *Navigator) Subscribe(fn func(Page)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

// Navigate выполняет внутренний переход: ставит маршрут и дописывает его
// в историю. Переход на страницу входа при уже совпадающей роли
// канонизируется в домашний путь роли до записи в историю.
func (n *Navigator) Navigate(location string) Page {
	route := ParseRoute(location)

	if entry, ok := lookupRoute(route.Path); ok && entry.homePath != "" {
		sess := n.session.Snapshot()
		if n.session.Ready() && sess.Authenticated() && sess.Role == entry.homeRole {
			route = Route{Path: entry.homePath, Query: url.Values{}}
		}
	}

	n.mu.Lock()
	n.current = route
	n.mu.Unlock()

	if n.history != nil {
		n.history.Push(route.String())
	}

	return n.recompute()
}

// HandleLocationChange обрабатывает внешнее изменение адреса (кнопки
// назад/вперёд). В историю при этом не пишет: запись уже там есть,
// дубликат сломал бы навигацию назад.
func (n *Navigator) HandleLocationChange(location string) Page {
	route := ParseRoute(location)

	n.mu.Lock()
	n.current = route
	n.mu.Unlock()

	return n.recompute()
}

// Refresh пересчитывает страницу для текущего маршрута. Вызывается при
// изменении сессии (вход, выход, сброс по отклонённому токену).
func (n *Navigator) Refresh() Page {
	return n.recompute()
}

// Current возвращает текущий маршрут.
func (n *Navigator) Current() Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Page возвращает страницу для текущего маршрута и сессии.
func (n *Navigator) Page() Page {
	n.mu.Lock()
	route := n.current
	n.mu.Unlock()

	return ResolvePage(route, n.session.Snapshot(), n.session.Ready())
}

func (n *Navigator) recompute() Page {
	page := n.Page()

	n.mu.Lock()
	listeners := make([]func(Page), len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(page)
	}

	return page
}
