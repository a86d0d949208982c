package cart

import (
	"encoding/json"
	"errors"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// SlotPrefix — общий префикс ключей со снимками корзин.
const SlotPrefix = "cart-storage"

// SchemaVersion — версия формата снимка. Другие версии считаются пустой корзиной.
const SchemaVersion = 0

var errSchemaMismatch = errors.New("cart snapshot schema mismatch")

// SlotKey возвращает ключ слота для корзины.
func SlotKey(cartID string) string {
	return SlotPrefix + ":" + cartID
}

type envelope struct {
	State   *state `json:"state"`
	Version *int   `json:"version,omitempty"`
}

type state struct {
	Items []domain.CartLine `json:"items"`
}

func encode(lines []domain.CartLine) ([]byte, error) {
	v := SchemaVersion
	items := lines
	if items == nil {
		items = []domain.CartLine{}
	}
	return json.Marshal(envelope{State: &state{Items: items}, Version: &v})
}

// decode разбирает снимок и нормализует строки.
// Пустой слот даёт пустую корзину без ошибки.
func decode(data []byte) ([]domain.CartLine, int, error) {
	if len(data) == 0 {
		return nil, 0, nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, 0, err
	}
	if env.Version != nil && *env.Version != SchemaVersion {
		return nil, 0, errSchemaMismatch
	}
	if env.State == nil {
		return nil, 0, errSchemaMismatch
	}
	lines, dropped := normalize(env.State.Items)
	return lines, dropped, nil
}

// normalize выбрасывает битые строки и склеивает дубликаты по id товара.
func normalize(items []domain.CartLine) ([]domain.CartLine, int) {
	out := make([]domain.CartLine, 0, len(items))
	index := make(map[string]int, len(items))
	dropped := 0
	for _, item := range items {
		if item.Quantity < 1 || item.Product.Validate() != nil {
			dropped++
			continue
		}
		if i, ok := index[item.Product.ID]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.Product.ID] = len(out)
		out = append(out, item)
	}
	return out, dropped
}
