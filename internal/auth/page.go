package auth

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const defaultErrorSelector = "#errorMsg, .error-message, .alert-danger, .login-error"

type loginPage struct {
	hidden  map[string]string
	message string
}

func parseLoginPage(body io.Reader, errorSelector string) (loginPage, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return loginPage{}, fmt.Errorf("parse login page: %w", err)
	}

	page := loginPage{hidden: make(map[string]string)}
	doc.Find("form input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
		name, ok := input.Attr("name")
		if !ok || strings.TrimSpace(name) == "" {
			return
		}
		value, _ := input.Attr("value")
		page.hidden[name] = value
	})

	if errorSelector == "" {
		errorSelector = defaultErrorSelector
	}
	doc.Find(errorSelector).EachWithBreak(func(_ int, node *goquery.Selection) bool {
		text := strings.Join(strings.Fields(node.Text()), " ")
		if text == "" {
			return true
		}
		page.message = text
		return false
	})

	return page, nil
}
