package identity

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"kimhanh/internal/model"
)

// PurchaseType 购买类型。
type PurchaseType string

const (
	Regular PurchaseType = "regular"
	Wedding PurchaseType = "wedding"
)

const dobLayout = "2006-01-02"

// 与 model.Customer / model.SavedCollection 的列宽一致。
const (
	MaxPhoneLength = 32
	MaxNameLength  = 128
)

var (
	ErrMissingName    = errors.New("name is required")
	ErrMissingDOB     = errors.New("date of birth is required")
	ErrInvalidDOB     = errors.New("date of birth must be YYYY-MM-DD")
	ErrMissingPhone   = errors.New("phone is required")
	ErrPurchaseType   = errors.New("purchase type must be regular or wedding")
	ErrPhoneTooLong   = errors.New("phone must be at most 32 characters")
	ErrNameTooLong    = errors.New("name must be at most 128 characters")
)

// Person 姓名与出生日期。
type Person struct {
	Name string `json:"name"`
	DOB  string `json:"dob"`
}

// Identity 客户身份。Phone 同时是收藏集的身份键。
type Identity struct {
	PurchaseType PurchaseType `json:"purchase_type"`
	Primary      Person       `json:"primary"`
	Partner      *Person      `json:"partner,omitempty"`
	Phone        string       `json:"phone"`
}

// Normalize 去除首尾空白；非婚嫁购买或配偶信息全空时丢弃配偶。
func (id Identity) Normalize() Identity {
	out := Identity{
		PurchaseType: PurchaseType(strings.ToLower(strings.TrimSpace(string(id.PurchaseType)))),
		Primary:      trimPerson(id.Primary),
		Phone:        strings.TrimSpace(id.Phone),
	}
	if out.PurchaseType == "" {
		out.PurchaseType = Regular
	}
	if out.PurchaseType == Wedding && id.Partner != nil {
		if p := trimPerson(*id.Partner); p != (Person{}) {
			out.Partner = &p
		}
	}
	return out
}

// Validate 校验必填字段，应在 Normalize 之后调用。
//
// 配偶信息是可选的：只校验已填写的字段（长度与日期格式）。
func (id Identity) Validate() error {
	if id.PurchaseType != Regular && id.PurchaseType != Wedding {
		return ErrPurchaseType
	}
	if err := validatePerson(id.Primary); err != nil {
		return err
	}
	if id.Phone == "" {
		return ErrMissingPhone
	}
	if utf8.RuneCountInString(id.Phone) > MaxPhoneLength {
		return ErrPhoneTooLong
	}
	if id.Partner != nil {
		return validatePartner(*id.Partner)
	}
	return nil
}

// Key 持久化身份键。
func (id Identity) Key() string {
	return id.Phone
}

// ToCustomer 转换为客户记录。
func (id Identity) ToCustomer() *model.Customer {
	c := &model.Customer{
		Phone:        id.Phone,
		PurchaseType: string(id.PurchaseType),
		Name:         id.Primary.Name,
		DOB:          id.Primary.DOB,
	}
	if id.Partner != nil {
		c.PartnerName = id.Partner.Name
		c.PartnerDOB = id.Partner.DOB
	}
	return c
}

func trimPerson(p Person) Person {
	return Person{Name: strings.TrimSpace(p.Name), DOB: strings.TrimSpace(p.DOB)}
}

func validatePerson(p Person) error {
	if p.Name == "" {
		return ErrMissingName
	}
	if p.DOB == "" {
		return ErrMissingDOB
	}
	return validatePartner(p)
}

func validatePartner(p Person) error {
	if utf8.RuneCountInString(p.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	if p.DOB == "" {
		return nil
	}
	if _, err := time.Parse(dobLayout, p.DOB); err != nil {
		return ErrInvalidDOB
	}
	return nil
}
