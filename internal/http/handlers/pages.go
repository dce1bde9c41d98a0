package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

const uploadPage = `<html>
    <head><title>Upload Test</title></head>
    <body>
        <form action="/render" method="post" enctype="multipart/form-data">
            <input type="file" name="file"/>
            <select name="format">
                <option value="pdf">pdf</option>
                <option value="html">html</option>
                <option value="both">both</option>
            </select>
            <button type="submit">Submit</button>
        </form>
        <p>Max size: %s</p>
    </body>
</html>
`

// UploadPage serves the debug upload form.
func UploadPage(maxUploadBytes int) fiber.Handler {
	body := fmt.Sprintf(uploadPage, humanSize(maxUploadBytes))
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(body)
	}
}

func humanSize(n int) string {
	const mib = 1024 * 1024
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	if n >= 1024 && n%1024 == 0 {
		return fmt.Sprintf("%dKB", n/1024)
	}
	return fmt.Sprintf("%d bytes", n)
}
