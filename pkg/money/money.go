package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ============================================================================
// 金额类型
// ============================================================================
//
// 【为什么用整数便士？】
//
// 浮点数无法精确表示十进制金额（0.1 + 0.2 != 0.3），
// 系统内部所有金额一律使用整数最小货币单位（英镑 -> 便士）。
// 唯一允许出现浮点的位置是边界换算：调用方传入十进制主单位金额时，
// 在入口按四舍五入（round half up）换算成便士，换算结果必须是整数。
//
// ============================================================================

var (
	ErrNegativeAmount = errors.New("金额不能为负数")
	ErrAmountTooLarge = errors.New("金额超出可表示范围")
	ErrInvalidAmount  = errors.New("金额格式不合法")
)

// Pence 便士金额（整数最小货币单位）
type Pence int64

// maxMajor 主单位金额上限，防止换算溢出
const maxMajor = float64(math.MaxInt64) / 100

// FromMajor 把十进制主单位金额换算为便士，四舍五入
// 例：3.005 -> 301，2.994 -> 299
func FromMajor(major float64) (Pence, error) {
	if math.IsNaN(major) || math.IsInf(major, 0) {
		return 0, ErrInvalidAmount
	}
	if major < 0 {
		return 0, ErrNegativeAmount
	}
	if major >= maxMajor {
		return 0, ErrAmountTooLarge
	}
	// math.Floor(x+0.5) 实现 round half up（math.Round 是 half away from zero，
	// 金额已保证非负，两者等价，这里显式写出便于审计）
	return Pence(math.Floor(major*100 + 0.5)), nil
}

// FromMajorString 解析十进制金额字符串并换算为便士
// 只接受最多两位小数，超出视为非法输入而不是静默舍入
func FromMajorString(s string) (Pence, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeAmount
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, ErrInvalidAmount
	}
	if len(fracPart) > 2 {
		return 0, ErrInvalidAmount
	}
	if intPart == "" {
		intPart = "0"
	}
	// 补齐到两位小数，整体按便士解析
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	v, err := strconv.ParseInt(intPart+fracPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return Pence(v), nil
}

// Major 便士换算回主单位的展示字符串，例：301 -> "3.01"
func (p Pence) Major() string {
	sign := ""
	v := int64(p)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Int64 取整数便士值
func (p Pence) Int64() int64 {
	return int64(p)
}
