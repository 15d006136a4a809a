package domain

// Сообщения для пользователя. Существующие клиенты бэк-офиса вьетнамоязычные.
const (
	MsgRequestSucceeded = "Tạo hóa đơn thành công"
	MsgUpdateSucceeded  = "Cập nhật hóa đơn thành công"
	MsgApproveSucceeded = "Duyệt hóa đơn thành công"
	MsgRejectSucceeded  = "Từ chối hóa đơn thành công"
	MsgConfirmSucceeded = "Xác nhận hóa đơn thành công"
	MsgCancelSucceeded  = "Hủy hóa đơn thành công"
	MsgDisableSucceeded = "Vô hiệu hóa hóa đơn thành công"
	MsgGetSucceeded     = "Lấy thông tin hóa đơn thành công"
	MsgListSucceeded    = "Lấy danh sách hóa đơn thành công"
	MsgSucceeded        = "Thao tác thành công"

	MsgNotAuthenticated  = "Người dùng chưa đăng nhập"
	MsgBillNotFound      = "Hóa đơn không tồn tại"
	MsgCircleNotFound    = "Lứa nuôi không tồn tại"
	MsgStatusConflict    = "Trạng thái hóa đơn không cho phép thao tác này"
	MsgVersionConflict   = "Hóa đơn đã bị thay đổi bởi thao tác khác"
	MsgCircleNotGrowing  = "Lứa nuôi không còn nhận hàng"
	MsgQuantityInvalid   = "Số lượng phải lớn hơn 0"
	MsgItemNotFound      = "Mặt hàng không tồn tại"
	MsgItemInactive      = "Mặt hàng đã ngừng hoạt động"
	MsgInsufficientStock = "Không đủ tồn kho"
	MsgMixedItemKinds    = "Hóa đơn chứa nhiều loại mặt hàng khác nhau"
	MsgBillTypeMismatch  = "Loại hóa đơn không phù hợp với thao tác"
	MsgInvalidQuery      = "Tham số truy vấn không hợp lệ"
	MsgInvalidRequest    = "Dữ liệu yêu cầu không hợp lệ"
	MsgOperationFailed   = "Thao tác thất bại"
)

var emptyItemsMessages = map[ItemKind]string{
	ItemKindFood:     "Phải cung cấp ít nhất một mặt hàng thức ăn",
	ItemKindMedicine: "Phải cung cấp ít nhất một mặt hàng thuốc",
	ItemKindBreed:    "Phải cung cấp ít nhất một giống vật nuôi",
}

var kindLabels = map[ItemKind]string{
	ItemKindFood:     "Thức ăn",
	ItemKindMedicine: "Thuốc",
	ItemKindBreed:    "Giống",
}

// EmptyItemsMessage возвращает сообщение для запроса без строк заданного вида.
func EmptyItemsMessage(kind ItemKind) string {
	if msg, ok := emptyItemsMessages[kind]; ok {
		return msg
	}
	return "Phải cung cấp ít nhất một mặt hàng"
}

// KindLabel возвращает отображаемое имя вида позиции.
func KindLabel(kind ItemKind) string {
	if label, ok := kindLabels[kind]; ok {
		return label
	}
	return string(kind)
}
