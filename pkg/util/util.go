// Package util 提供跨层复用的小工具: env 读取、数值钳制、
// panic 保护的 goroutine 启动器等。
package util

import (
	"encoding/json"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/sea922/codestudio/pkg/logger"
)

// ToMapAny 把任意值转成 map[string]any。本身已是该类型时直接返回,
// 否则走一次 json 往返, 失败时退回空 map。
func ToMapAny(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	if raw, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(raw, &m)
	}
	return m
}

// ClampInt 把 v 钳制到 [lo, hi]。
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EnvStr 读字符串环境变量, 未设置或为空时返回 def。
func EnvStr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// EnvInt 读整型环境变量。未设置或解析失败返回 def, 结果不小于 min。
func EnvInt(name string, def, min int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return maxInt(v, min)
}

// EnvFloat 读浮点环境变量。未设置或解析失败返回 def, 结果不小于 min。
func EnvFloat(name string, def, min float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	return v
}

// EnvBool 读布尔环境变量。1/true/yes/on 为真, 0/false/no/off 为假,
// 其余取 def。
func EnvBool(name string, def bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func maxInt(a, b int) int {
	if a < b {
		return b
	}
	return a
}

// LoadFromEnv 按 struct tag 从环境填充配置字段:
//
//	env:"VAR_NAME"   环境变量名 (缺省则跳过该字段)
//	default:"value"  未设置时的默认值
//	min:"N"          数值下限 (int/float64)
//
// 支持 string/int/float64/bool 字段, ptr 必须是指向 struct 的非 nil 指针。
func LoadFromEnv(ptr any) {
	rv := reflect.ValueOf(ptr)
	if ptr == nil || rv.Kind() != reflect.Pointer || rv.IsNil() {
		logger.Error("util.LoadFromEnv: ptr must be a non-nil pointer to struct")
		return
	}
	target := rv.Elem()
	for i := range target.NumField() {
		loadField(target.Type().Field(i), target.Field(i))
	}
}

func loadField(field reflect.StructField, fv reflect.Value) {
	envName := field.Tag.Get("env")
	if envName == "" {
		return
	}
	def := field.Tag.Get("default")
	minTag := field.Tag.Get("min")

	switch field.Type.Kind() {
	case reflect.String:
		fv.SetString(EnvStr(envName, def))
	case reflect.Int:
		defInt, _ := strconv.Atoi(def)
		minInt, _ := strconv.Atoi(minTag)
		fv.SetInt(int64(EnvInt(envName, defInt, minInt)))
	case reflect.Float64:
		defFloat, _ := strconv.ParseFloat(def, 64)
		minFloat, _ := strconv.ParseFloat(minTag, 64)
		fv.SetFloat(EnvFloat(envName, defFloat, minFloat))
	case reflect.Bool:
		fv.SetBool(EnvBool(envName, def == "true" || def == "1" || def == "yes"))
	}
}
