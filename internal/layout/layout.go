// Package layout выбирает обрамление экрана (chrome) по странице и сессии.
package layout

import (
	"github.com/mmeshcher/farmart-client/internal/model"
	"github.com/mmeshcher/farmart-client/internal/navigator"
)

// Chrome перечисляет варианты навигационного обрамления страницы.
type Chrome int

const (
	// ChromeNone — страница без обрамления (лендинги, загрузка, вход фермера).
	ChromeNone Chrome = iota
	// ChromeBuyer — навбар покупателя.
	ChromeBuyer
	// ChromeFarmer — сайдбар и навбар фермерского портала.
	ChromeFarmer
)

func (c Chrome) String() string {
	switch c {
	case ChromeBuyer:
		return "buyer"
	case ChromeFarmer:
		return "farmer"
	}
	return "none"
}

// ChromeFor выбирает обрамление для страницы. Функция чистая, собственного
// состояния не имеет и пересчитывается при каждом изменении страницы или сессии.
func ChromeFor(page navigator.Page, sess model.Session) Chrome {
	switch page {
	case navigator.PageFarmerDashboard, navigator.PageFarmerListings,
		navigator.PageFarmerOrders, navigator.PageFarmerContact:
		if sess.Authenticated() && sess.Role == model.RoleFarmer {
			return ChromeFarmer
		}
		return ChromeNone
	case navigator.PageLoading, navigator.PageBuyerLanding,
		navigator.PageFarmerLanding, navigator.PageFarmerAuth:
		return ChromeNone
	default:
		return ChromeBuyer
	}
}
