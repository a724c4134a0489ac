// Package scenario implements the clearing scenario dispatcher (C9):
// classifying each fill by the pair (buy_book_type, sell_book_type) into
// one of a closed set of four tagged variants, dispatched by pattern
// match rather than virtual methods per spec.md §9. Grounded on
// original_source/pm_matching/engine/scenario.py.
package scenario

import (
	"fmt"

	"github.com/openalpha/predictx/internal/domain"
)

// Classify maps (buyBookType, sellBookType) to a Scenario tag.
func Classify(buy, sell domain.BookType) (domain.Scenario, error) {
	switch {
	case buy == domain.BookNativeBuy && sell == domain.BookSyntheticSell:
		return domain.ScenarioMint, nil
	case buy == domain.BookNativeBuy && sell == domain.BookNativeSell:
		return domain.ScenarioTransferYes, nil
	case buy == domain.BookSyntheticBuy && sell == domain.BookSyntheticSell:
		return domain.ScenarioTransferNo, nil
	case buy == domain.BookSyntheticBuy && sell == domain.BookNativeSell:
		return domain.ScenarioBurn, nil
	default:
		return "", fmt.Errorf("scenario: no clearing scenario for buy=%s sell=%s", buy, sell)
	}
}
