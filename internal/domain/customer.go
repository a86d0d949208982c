package domain

import (
	"net/mail"
	"strings"
)

// CustomerDetails — контактные данные, которые покупатель вводит при оформлении.
type CustomerDetails struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone,omitempty"`
	ShippingAddress string `json:"shipping_address,omitempty"`
}

// Normalize обрезает пробелы во всех полях.
func (c CustomerDetails) Normalize() CustomerDetails {
	return CustomerDetails{
		Name:            strings.TrimSpace(c.Name),
		Email:           strings.TrimSpace(c.Email),
		Phone:           strings.TrimSpace(c.Phone),
		ShippingAddress: strings.TrimSpace(c.ShippingAddress),
	}
}

// Validate выполняет строгую проверку имени и email.
// Возвращает *ValidationError или nil.
func (c CustomerDetails) Validate() error {
	c = c.Normalize()
	ve := &ValidationError{}

	if c.Name == "" {
		ve.Add("name", "name is required")
	}
	switch {
	case c.Email == "":
		ve.Add("email", "email is required")
	case !validEmail(c.Email):
		ve.Add("email", "email is not valid")
	}

	if ve.Empty() {
		return nil
	}
	return ve
}

// validEmail принимает только адрес вида local@domain.tld без display name.
func validEmail(raw string) bool {
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(raw, '@')
	if at <= 0 {
		return false
	}
	host := raw[at+1:]
	dot := strings.LastIndexByte(host, '.')
	return dot > 0 && dot < len(host)-1
}
