package notebook

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/houzhh15/eln-editsession/pkg/editsession"
)

const (
	maxStringLength = 255
	maxTextLength   = 1 << 20
	dateLayout      = "2006-01-02"
	timeLayout      = "15:04"
)

// ValidateValue 按字段类型校验自动保存的值，返回面向用户的错误信息
// 空值总是合法（必填校验只反映在 mandatorySatisfied 上）
func ValidateValue(f *Field, raw string) string {
	if raw == "" {
		return ""
	}
	switch f.Kind {
	case editsession.KindString:
		if utf8.RuneCountInString(raw) > maxStringLength {
			return fmt.Sprintf("%s: at most %d characters", f.Name, maxStringLength)
		}
	case editsession.KindText:
		if len(raw) > maxTextLength {
			return fmt.Sprintf("%s: text too long", f.Name)
		}
	case editsession.KindNumber:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return fmt.Sprintf("%s: '%s' is not a number", f.Name, raw)
		}
	case editsession.KindDate:
		if _, err := time.Parse(dateLayout, raw); err != nil {
			return fmt.Sprintf("%s: '%s' is not a date (YYYY-MM-DD)", f.Name, raw)
		}
	case editsession.KindTime:
		if _, err := time.Parse(timeLayout, raw); err != nil {
			return fmt.Sprintf("%s: '%s' is not a time (HH:MM)", f.Name, raw)
		}
	case editsession.KindRadio:
		if !slices.Contains(f.Options, raw) {
			return fmt.Sprintf("%s: unknown option '%s'", f.Name, raw)
		}
	case editsession.KindChoice:
		for _, opt := range editsession.DecodeValue(editsession.KindChoice, raw).Options {
			if !slices.Contains(f.Options, opt) {
				return fmt.Sprintf("%s: unknown option '%s'", f.Name, opt)
			}
		}
	}
	return ""
}

// validateSpec 校验字段定义
func validateSpec(spec FieldSpec) error {
	if spec.Name == "" {
		return NewInvalidInputError("field name is required")
	}
	if !spec.Kind.Valid() {
		return NewInvalidInputError(fmt.Sprintf("field %s: unknown kind '%s'", spec.Name, spec.Kind))
	}
	if (spec.Kind == editsession.KindChoice || spec.Kind == editsession.KindRadio) && len(spec.Options) == 0 {
		return NewInvalidInputError(fmt.Sprintf("field %s: options are required", spec.Name))
	}
	if err := validateOptions(spec); err != nil {
		return err
	}
	f := &Field{Name: spec.Name, Kind: spec.Kind, Options: spec.Options}
	if msg := ValidateValue(f, spec.Value); msg != "" {
		return NewInvalidInputError(msg)
	}
	return nil
}

// validateOptions 选项不可为空或重复；多选项在传输时以逗号拼接并去除首尾空白，
// 因此选项本身不能含分隔符或首尾空白
func validateOptions(spec FieldSpec) error {
	seen := make(map[string]bool, len(spec.Options))
	for _, opt := range spec.Options {
		if opt == "" {
			return NewInvalidInputError(fmt.Sprintf("field %s: empty option", spec.Name))
		}
		if seen[opt] {
			return NewInvalidInputError(fmt.Sprintf("field %s: duplicate option '%s'", spec.Name, opt))
		}
		seen[opt] = true
		if spec.Kind != editsession.KindChoice {
			continue
		}
		if strings.Contains(opt, editsession.ChoiceSeparator) {
			return NewInvalidInputError(fmt.Sprintf("field %s: option '%s' must not contain '%s'", spec.Name, opt, editsession.ChoiceSeparator))
		}
		if strings.TrimSpace(opt) != opt {
			return NewInvalidInputError(fmt.Sprintf("field %s: option '%s' has leading or trailing spaces", spec.Name, opt))
		}
	}
	return nil
}
