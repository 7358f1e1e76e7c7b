package mapping

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/Ramsey-B/clover/pkg/models"
)

// headerAliases maps folded header names to lead fields. Scraper exports come with
// English or Spanish headers depending on the tool locale.
var headerAliases = map[string]models.Field{
	"name":          models.FieldName,
	"nombre":        models.FieldName,
	"title":         models.FieldName,
	"business name": models.FieldName,
	"negocio":       models.FieldName,

	"contact":  models.FieldContact,
	"contacto": models.FieldContact,
	"owner":    models.FieldContact,

	"phone":        models.FieldPhone,
	"phone number": models.FieldPhone,
	"telefono":     models.FieldPhone,
	"tel":          models.FieldPhone,
	"celular":      models.FieldPhone,

	"email":  models.FieldEmail,
	"e-mail": models.FieldEmail,
	"correo": models.FieldEmail,
	"mail":   models.FieldEmail,

	"address":   models.FieldAddress,
	"direccion": models.FieldAddress,
	"domicilio": models.FieldAddress,

	"province":  models.FieldProvince,
	"provincia": models.FieldProvince,
	"state":     models.FieldProvince,
	"region":    models.FieldProvince,

	"city":      models.FieldCity,
	"ciudad":    models.FieldCity,
	"localidad": models.FieldCity,

	"website":   models.FieldWebsite,
	"web":       models.FieldWebsite,
	"sitio web": models.FieldWebsite,
	"url":       models.FieldWebsite,

	"type":      models.FieldType,
	"category":  models.FieldType,
	"categoria": models.FieldType,
	"rubro":     models.FieldType,

	"rating":       models.FieldRating,
	"calificacion": models.FieldRating,
	"stars":        models.FieldRating,

	"reviews":      models.FieldReviewCount,
	"review count": models.FieldReviewCount,
	"resenas":      models.FieldReviewCount,
	"opiniones":    models.FieldReviewCount,

	"google url":      models.FieldGoogleURL,
	"google maps url": models.FieldGoogleURL,
	"maps url":        models.FieldGoogleURL,
	"link":            models.FieldGoogleURL,

	"schedule": models.FieldSchedule,
	"horario":  models.FieldSchedule,
	"hours":    models.FieldSchedule,
}

// SuggestMapping guesses a column mapping from a header row. The first column that
// matches a field wins; unmatched fields are left out.
func SuggestMapping(headers []string) models.ColumnMapping {
	suggested := models.ColumnMapping{}
	for idx, header := range headers {
		field, ok := headerAliases[foldHeader(header)]
		if !ok {
			continue
		}
		if _, taken := suggested[field]; taken {
			continue
		}
		suggested[field] = idx
	}
	return suggested
}

func foldHeader(h string) string {
	decomposed := norm.NFD.String(strings.ToLower(strings.TrimSpace(h)))
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if r == '_' {
			r = ' '
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
