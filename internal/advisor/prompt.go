package advisor

import (
	"fmt"
	"strings"

	"kimhanh/internal/identity"
)

// FengShuiPrompt 根据客户身份生成风水顾问的开场提示词。
func FengShuiPrompt(id identity.Identity) string {
	var b strings.Builder
	b.WriteString("Bạn là chuyên gia phong thủy Việt Nam, am hiểu trang sức vàng. ")
	b.WriteString("Dựa vào mệnh, tuổi và quy luật tương sinh tương khắc của khách hàng, ")
	b.WriteString("hãy gợi ý loại vàng, kiểu dáng và họa tiết trang sức hợp nhất để mang lại may mắn, tài lộc và hạnh phúc. ")
	b.WriteString("Trả lời bằng tiếng Việt, giọng trang trọng.\n\n")

	b.WriteString("**Khách hàng:**\n")
	fmt.Fprintf(&b, "- Họ và tên: %s\n", id.Primary.Name)
	fmt.Fprintf(&b, "- Ngày sinh: %s\n", id.Primary.DOB)

	if id.PurchaseType == identity.Wedding && id.Partner != nil {
		b.WriteString("\n**Người phối ngẫu:**\n")
		fmt.Fprintf(&b, "- Họ và tên: %s\n", id.Partner.Name)
		fmt.Fprintf(&b, "- Ngày sinh: %s\n\n", id.Partner.DOB)
		b.WriteString("Đây là trang sức cưới, hãy tư vấn sao cho hòa hợp cả hai vợ chồng.")
	} else {
		b.WriteString("Đây là trang sức mua cho cá nhân.")
	}
	return b.String()
}

// nudgePrompt 客户一段时间没有发言时，请模型主动给出一条简短提示。
const nudgePrompt = "Khách hàng chưa phản hồi một lúc. Hãy gửi một câu ngắn, thân thiện, " +
	"gợi ý một món trang sức cụ thể hợp phong thủy với họ và hỏi họ có muốn xem thêm không."
