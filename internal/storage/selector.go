package storage

import (
	"reflect"
)

// MatchSelector проверяет документ против селектора в стиле _find
// Поддерживаются предикаты равенства {field: value} и {field: {"$exists": bool}},
// а также явная форма {field: {"$eq": value}}
// Условия по разным полям объединяются через логическое И
func MatchSelector(doc map[string]interface{}, selector map[string]interface{}) bool {
	for field, predicate := range selector {
		value, present := doc[field]

		cond, isCond := predicate.(map[string]interface{})
		if !isCond {
			if !present || !looseEqual(value, predicate) {
				return false
			}
			continue
		}

		for op, arg := range cond {
			switch op {
			case "$exists":
				want, _ := arg.(bool)
				if present != want {
					return false
				}
			case "$eq":
				if !present || !looseEqual(value, arg) {
					return false
				}
			default:
				// Неизвестный оператор не совпадает ни с чем
				return false
			}
		}
	}
	return true
}

// looseEqual сравнивает значения с учетом того, что числа после JSON-декодирования
// приходят как float64
func looseEqual(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
