package utils

import (
	"regexp"
	"strings"
)

var localMobile = regexp.MustCompile(`^07\d{8}$`)

// NormalizeSpace collapses repeated whitespace into a single space.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsLocalMobile reports whether phone is a 10-digit 07XXXXXXXX number.
func IsLocalMobile(phone string) bool {
	return localMobile.MatchString(phone)
}

// ToMSISDN converts 07XXXXXXXX into the 2547XXXXXXXX form the gateway expects.
func ToMSISDN(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "0") {
		return "254" + phone[1:]
	}
	return phone
}

// NormalizeRegistration uppercases a plate and strips inner spaces ("kbz 123a" -> "KBZ123A").
func NormalizeRegistration(reg string) string {
	return strings.ToUpper(strings.Join(strings.Fields(reg), ""))
}
